// Package history records terminal instance lifecycle events (spawn, exit)
// to a pluggable sink. History is observability, not control flow: every
// write is best-effort and failures never reach the stream path.
package history

import (
	"context"
	"time"
)

// Record is one instance's lifecycle row.
type Record struct {
	InstanceID string
	Session    string
	Command    string
	PID        int
	StartedAt  time.Time
	ExitedAt   time.Time
	ExitErr    string
}

// Sink persists lifecycle records.
type Sink interface {
	RecordSpawn(ctx context.Context, rec Record) error
	RecordExit(ctx context.Context, instanceID string, exitedAt time.Time, exitErr error) error
	Close() error
}

// Nop discards everything. Used when history is disabled.
type Nop struct{}

func (Nop) RecordSpawn(context.Context, Record) error { return nil }
func (Nop) RecordExit(context.Context, string, time.Time, error) error {
	return nil
}
func (Nop) Close() error { return nil }
