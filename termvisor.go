// Package termvisor is the embeddable terminal-session supervision core:
// pty-backed process lifecycle, a classified session log with bounded
// write-behind buffering and retention trimming, and a latency-aware
// display batching layer.
package termvisor

import (
	"context"
	"time"

	"github.com/kyusang/termvisor/internal/config"
	"github.com/kyusang/termvisor/internal/history"
	hfactory "github.com/kyusang/termvisor/internal/history/factory"
	"github.com/kyusang/termvisor/internal/instance"
	"github.com/kyusang/termvisor/internal/logbuf"
	"github.com/kyusang/termvisor/internal/logstore"
	"github.com/kyusang/termvisor/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type SpawnSpec = instance.Spec

type Event = supervisor.Event

type InstanceInfo = supervisor.Info

type LogRecord = logstore.Record

type LogStats = logstore.Stats

type Tunables = config.Tunables

type HistoryConfig = hfactory.Config

const (
	EventData = supervisor.EventData
	EventExit = supervisor.EventExit
)

// Options configures a Core.
type Options struct {
	// DataDir holds the per-session log files. Required.
	DataDir string
	// Grace is the disposal escalation window; zero means 5s.
	Grace time.Duration
	// History selects the lifecycle history sink; zero value disables it.
	History HistoryConfig
	// Tunables seeds the hot-reloadable values; zero value means defaults.
	Tunables *Tunables
}

// Core bundles the supervision pipeline for embedding in a desktop shell.
type Core struct {
	Supervisor *supervisor.Supervisor
	Logs       *logbuf.Service
	Store      *logstore.Store
	Config     *config.Manager

	hist history.Sink
}

// New assembles and starts the pipeline.
func New(opts Options) (*Core, error) {
	tun := config.DefaultTunables()
	if opts.Tunables != nil {
		tun = *opts.Tunables
	}
	cfgMgr, err := config.NewManager(tun)
	if err != nil {
		return nil, err
	}
	store, err := logstore.New(opts.DataDir)
	if err != nil {
		return nil, err
	}
	trimmer := logstore.NewTrimmer(store, func() logstore.Limits {
		t := cfgMgr.Snapshot()
		return logstore.Limits{
			MaxRecords: t.MaxRecordsPerFile,
			Retention:  t.Retention(),
			Debounce:   t.TrimDebounce(),
		}
	})
	logs := logbuf.NewService(store, trimmer, func() bool {
		return cfgMgr.Snapshot().EnableFiltering
	})
	sink, err := hfactory.New(opts.History)
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(logs, sink, supervisor.WithGrace(opts.Grace))
	logs.Start()
	return &Core{
		Supervisor: sup,
		Logs:       logs,
		Store:      store,
		Config:     cfgMgr,
		hist:       sink,
	}, nil
}

// Create spawns a terminal instance and returns its id.
func (c *Core) Create(spec SpawnSpec) (string, error) { return c.Supervisor.Create(spec) }

// Write forwards input bytes to an instance.
func (c *Core) Write(id string, data []byte) error { return c.Supervisor.Write(id, data) }

// Resize propagates a terminal-size change.
func (c *Core) Resize(id string, cols, rows int) error { return c.Supervisor.Resize(id, cols, rows) }

// Show routes an instance's output to the display boundary.
func (c *Core) Show(id string) { c.Supervisor.Show(id) }

// Hide stops routing an instance's output to the display boundary.
func (c *Core) Hide(id string) { c.Supervisor.Hide(id) }

// Dispose terminates an instance's whole process tree.
func (c *Core) Dispose(id string) { c.Supervisor.Dispose(id) }

// Events is the supervisor's typed event stream.
func (c *Core) Events() <-chan Event { return c.Supervisor.Events() }

// ReadLog returns a session's persisted records, newest-bounded by limit.
func (c *Core) ReadLog(session string, limit int) ([]LogRecord, error) {
	return c.Store.Read(session, limit)
}

// GetLogStats summarizes a session's persisted log.
func (c *Core) GetLogStats(session string) (LogStats, error) { return c.Store.Stats(session) }

// DeleteLog flushes and removes a session's log and buffer state.
func (c *Core) DeleteLog(session string) error { return c.Logs.DeleteSession(session) }

// ApplyConfig hot-swaps the tunables. No restart required.
func (c *Core) ApplyConfig(t Tunables) error { return c.Config.Apply(t) }

// Shutdown disposes every live instance, flushes all buffers, and closes
// the history sink.
func (c *Core) Shutdown(ctx context.Context) {
	c.Supervisor.Shutdown(ctx)
	c.Logs.Stop()
	_ = c.hist.Close()
}
