package factory

import (
	"fmt"

	"github.com/kyusang/termvisor/internal/history"
	"github.com/kyusang/termvisor/internal/history/postgres"
	"github.com/kyusang/termvisor/internal/history/sqlite"
)

// Config selects a history sink. Driver is "sqlite", "postgres", or ""
// (disabled). DSN is a file path for sqlite and a connection string for
// postgres.
type Config struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// New builds the configured sink. An empty driver yields the nop sink.
func New(cfg Config) (history.Sink, error) {
	switch cfg.Driver {
	case "", "none":
		return history.Nop{}, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres":
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
