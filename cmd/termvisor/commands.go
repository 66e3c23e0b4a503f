package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kyusang/termvisor"
	"github.com/kyusang/termvisor/internal/config"
	"github.com/kyusang/termvisor/internal/logger"
	"github.com/kyusang/termvisor/internal/metrics"
	"github.com/kyusang/termvisor/internal/server"
)

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	DataDir    string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:          "termvisor",
		Short:        "Terminal-session supervision daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&gf.DataDir, "data-dir", "", "override session log directory")

	root.AddCommand(newServeCmd(gf))
	root.AddCommand(newLogsCmd(gf))
	root.AddCommand(newStatsCmd(gf))
	return root
}

func loadConfig(gf *GlobalFlags) (config.File, error) {
	fc, err := config.Load(gf.ConfigPath)
	if err != nil {
		return fc, err
	}
	if gf.DataDir != "" {
		fc.DataDir = gf.DataDir
	}
	return fc, nil
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon with its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig(gf)
			if err != nil {
				return err
			}
			if listen != "" {
				fc.Listen = listen
			}

			closer, err := logger.Setup(fc.Log.Level, fc.Log.File, fc.Log.Color)
			if err != nil {
				return err
			}
			if closer != nil {
				defer func() { _ = closer.Close() }()
			}
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			tun := fc.Retention
			core, err := termvisor.New(termvisor.Options{
				DataDir:  filepath.Join(fc.DataDir, "sessions"),
				Grace:    fc.Grace(),
				History:  fc.History,
				Tunables: &tun,
			})
			if err != nil {
				return err
			}

			router := server.NewRouter(core.Supervisor, core.Logs, core.Store, core.Config)
			srv := server.NewServer(fc.Listen, router)
			slog.Info("termvisor listening", "addr", fc.Listen, "data_dir", fc.DataDir)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			core.Shutdown(ctx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func newLogsCmd(gf *GlobalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Print a session's persisted interaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore(gf)
			if err != nil {
				return err
			}
			defer core.Shutdown(context.Background())
			recs, err := core.ReadLog(args[0], limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				text := r.Clean
				if text == "" {
					text = string(r.Raw)
				}
				fmt.Printf("%s  %-7s  %s\n", r.Timestamp.Format(time.RFC3339), r.Kind, text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "only the most recent N records (0 = all)")
	return cmd
}

func newStatsCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Show stats for a session's persisted log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := openCore(gf)
			if err != nil {
				return err
			}
			defer core.Shutdown(context.Background())
			st, err := core.GetLogStats(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("records: %d\nsize: %d bytes\n", st.RecordCount, st.FileSizeBytes)
			if !st.Oldest.IsZero() {
				fmt.Printf("oldest: %s\nnewest: %s\n",
					st.Oldest.Format(time.RFC3339), st.Newest.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// openCore builds a read-oriented core for the query commands; it spawns
// nothing and disables history.
func openCore(gf *GlobalFlags) (*termvisor.Core, error) {
	fc, err := loadConfig(gf)
	if err != nil {
		return nil, err
	}
	tun := fc.Retention
	return termvisor.New(termvisor.Options{
		DataDir:  filepath.Join(fc.DataDir, "sessions"),
		Tunables: &tun,
	})
}
