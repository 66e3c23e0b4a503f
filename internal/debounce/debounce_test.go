package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTrailingCallOnly(t *testing.T) {
	s := New()
	defer s.Stop()

	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		s.Schedule("k", 50*time.Millisecond, func() { runs.Add(1) })
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && runs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	// Allow any stragglers to fire before counting.
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New()
	defer s.Stop()

	var a, b atomic.Int32
	s.Schedule("a", 20*time.Millisecond, func() { a.Add(1) })
	s.Schedule("b", 20*time.Millisecond, func() { b.Add(1) })
	time.Sleep(150 * time.Millisecond)
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("a=%d b=%d, want 1 each", a.Load(), b.Load())
	}
}

func TestCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { runs.Add(1) })
	s.Cancel("k")
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("cancelled task ran")
	}
	// Cancel of an unknown key must not panic.
	s.Cancel("missing")
}

func TestStopRejectsNewWork(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Schedule("k", 20*time.Millisecond, func() { runs.Add(1) })
	s.Stop()
	s.Schedule("k2", time.Millisecond, func() { runs.Add(1) })
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("task ran after Stop: %d", runs.Load())
	}
}
