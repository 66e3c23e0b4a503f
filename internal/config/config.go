package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"

	"github.com/kyusang/termvisor/internal/history/factory"
)

// Tunables are the hot-reloadable values. They can be swapped at runtime
// via Manager.Apply without a restart; everything else needs one.
type Tunables struct {
	MaxRecordsPerFile int  `mapstructure:"max_records_per_file" json:"max_records_per_file"`
	RetentionDays     int  `mapstructure:"retention_days" json:"retention_days"`
	TrimDebounceMs    int  `mapstructure:"trim_debounce_ms" json:"trim_debounce_ms"`
	EnableFiltering   bool `mapstructure:"enable_filtering" json:"enable_filtering"`
}

// DefaultTunables returns the values used when no config file is present.
func DefaultTunables() Tunables {
	return Tunables{
		MaxRecordsPerFile: 1000,
		RetentionDays:     30,
		TrimDebounceMs:    30000,
		EnableFiltering:   true,
	}
}

// Validate enforces the documented ranges. Out-of-range values are
// rejected here, before they reach any core component.
func (t Tunables) Validate() error {
	if t.MaxRecordsPerFile < 100 || t.MaxRecordsPerFile > 10000 {
		return fmt.Errorf("max_records_per_file %d out of range [100, 10000]", t.MaxRecordsPerFile)
	}
	if t.RetentionDays < 1 || t.RetentionDays > 365 {
		return fmt.Errorf("retention_days %d out of range [1, 365]", t.RetentionDays)
	}
	if t.TrimDebounceMs < 5000 || t.TrimDebounceMs > 120000 {
		return fmt.Errorf("trim_debounce_ms %d out of range [5000, 120000]", t.TrimDebounceMs)
	}
	return nil
}

// Retention returns the retention window as a duration.
func (t Tunables) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// TrimDebounce returns the trim debounce as a duration.
func (t Tunables) TrimDebounce() time.Duration {
	return time.Duration(t.TrimDebounceMs) * time.Millisecond
}

// LogConfig configures the daemon's own log output.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // rotated file; empty means stderr only
	Color bool   `mapstructure:"color"`
}

// File is the top-level TOML structure.
type File struct {
	Listen       string         `mapstructure:"listen"`
	DataDir      string         `mapstructure:"data_dir"`
	GraceSeconds int            `mapstructure:"grace_seconds"`
	History      factory.Config `mapstructure:"history"`
	Log          LogConfig      `mapstructure:"log"`
	Retention    Tunables       `mapstructure:"retention"`
}

// Grace returns the disposal escalation grace period.
func (f File) Grace() time.Duration {
	if f.GraceSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.GraceSeconds) * time.Second
}

// Load reads a TOML config file. An empty path returns defaults.
func Load(path string) (File, error) {
	fc := File{
		Listen:    "127.0.0.1:7070",
		DataDir:   "data",
		Log:       LogConfig{Level: "info", Color: true},
		Retention: DefaultTunables(),
	}
	if path == "" {
		return fc, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	if err := fc.Retention.Validate(); err != nil {
		return fc, err
	}
	return fc, nil
}

// Manager holds the live tunables as an immutable snapshot swapped
// atomically on Apply. Readers always see a consistent value, never a
// partial update.
type Manager struct {
	snap atomic.Pointer[Tunables]
}

func NewManager(t Tunables) (*Manager, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{}
	m.snap.Store(&t)
	return m, nil
}

// Snapshot returns the current tunables by value.
func (m *Manager) Snapshot() Tunables { return *m.snap.Load() }

// Apply validates and swaps in new tunables.
func (m *Manager) Apply(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.snap.Store(&t)
	return nil
}
