package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTunablesValidateRanges(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Tunables)
		wantErr bool
	}{
		{"defaults", func(*Tunables) {}, false},
		{"min values", func(tn *Tunables) {
			tn.MaxRecordsPerFile = 100
			tn.RetentionDays = 1
			tn.TrimDebounceMs = 5000
		}, false},
		{"max values", func(tn *Tunables) {
			tn.MaxRecordsPerFile = 10000
			tn.RetentionDays = 365
			tn.TrimDebounceMs = 120000
		}, false},
		{"records too low", func(tn *Tunables) { tn.MaxRecordsPerFile = 99 }, true},
		{"records too high", func(tn *Tunables) { tn.MaxRecordsPerFile = 10001 }, true},
		{"retention zero", func(tn *Tunables) { tn.RetentionDays = 0 }, true},
		{"retention too long", func(tn *Tunables) { tn.RetentionDays = 366 }, true},
		{"debounce too short", func(tn *Tunables) { tn.TrimDebounceMs = 4999 }, true},
		{"debounce too long", func(tn *Tunables) { tn.TrimDebounceMs = 120001 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tn := DefaultTunables()
			tc.mutate(&tn)
			err := tn.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	tn := Tunables{RetentionDays: 7, TrimDebounceMs: 15000}
	if got := tn.Retention(); got != 7*24*time.Hour {
		t.Fatalf("retention = %v", got)
	}
	if got := tn.TrimDebounce(); got != 15*time.Second {
		t.Fatalf("debounce = %v", got)
	}
}

func TestManagerApplySwapsSnapshot(t *testing.T) {
	m, err := NewManager(DefaultTunables())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	next := DefaultTunables()
	next.MaxRecordsPerFile = 500
	next.EnableFiltering = false
	if err := m.Apply(next); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got := m.Snapshot()
	if got.MaxRecordsPerFile != 500 || got.EnableFiltering {
		t.Fatalf("snapshot after apply = %+v", got)
	}
}

func TestManagerRejectsInvalidApplyKeepsOld(t *testing.T) {
	m, err := NewManager(DefaultTunables())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	bad := DefaultTunables()
	bad.RetentionDays = 0
	if err := m.Apply(bad); err == nil {
		t.Fatal("invalid tunables accepted")
	}
	if got := m.Snapshot(); got != DefaultTunables() {
		t.Fatalf("snapshot changed after rejected apply: %+v", got)
	}
}

func TestManagerConcurrentReaders(t *testing.T) {
	m, _ := NewManager(DefaultTunables())
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := m.Snapshot()
				// Each snapshot must be internally consistent.
				if s.Validate() != nil {
					t.Error("reader observed an invalid snapshot")
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		tn := DefaultTunables()
		tn.MaxRecordsPerFile = 100 + i*10
		_ = m.Apply(tn)
	}
	close(stop)
	wg.Wait()
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	fc, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != "127.0.0.1:7070" || fc.DataDir != "data" {
		t.Fatalf("defaults = %+v", fc)
	}
	if fc.Retention != DefaultTunables() {
		t.Fatalf("retention defaults = %+v", fc.Retention)
	}
	if fc.Grace() != 5*time.Second {
		t.Fatalf("grace default = %v", fc.Grace())
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termvisor.toml")
	body := `
listen = "0.0.0.0:9090"
data_dir = "/var/lib/termvisor"
grace_seconds = 10

[history]
driver = "sqlite"
dsn = "file:history.db"

[log]
level = "debug"
color = false

[retention]
max_records_per_file = 2000
retention_days = 14
trim_debounce_ms = 20000
enable_filtering = false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Listen != "0.0.0.0:9090" || fc.DataDir != "/var/lib/termvisor" {
		t.Fatalf("top-level = %+v", fc)
	}
	if fc.Grace() != 10*time.Second {
		t.Fatalf("grace = %v", fc.Grace())
	}
	if fc.History.Driver != "sqlite" || fc.History.DSN != "file:history.db" {
		t.Fatalf("history = %+v", fc.History)
	}
	if fc.Log.Level != "debug" || fc.Log.Color {
		t.Fatalf("log = %+v", fc.Log)
	}
	want := Tunables{MaxRecordsPerFile: 2000, RetentionDays: 14, TrimDebounceMs: 20000}
	if fc.Retention != want {
		t.Fatalf("retention = %+v", fc.Retention)
	}
}

func TestLoadRejectsOutOfRangeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termvisor.toml")
	body := `
[retention]
max_records_per_file = 5
retention_days = 14
trim_debounce_ms = 20000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("out-of-range config accepted")
	}
}
