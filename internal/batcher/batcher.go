// Package batcher coalesces raw output chunks per terminal instance before
// handing them to the display boundary. Coalescing trades a frame of latency
// for far fewer display calls under heavy output, but anything that looks
// like keystroke echo or IME composition is forwarded immediately.
package batcher

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kyusang/termvisor/internal/metrics"
)

const (
	// DefaultWindow is one animation frame.
	DefaultWindow = 16 * time.Millisecond
	// smallChunk is the size below which a chunk is treated as keystroke
	// echo and flushed immediately.
	smallChunk = 1024
	// maxPending is the hard ceiling on accumulated unflushed bytes; a
	// burst (cat of a large file) is flushed as soon as it crosses this.
	maxPending = 64 * 1024
)

// Sink receives coalesced output for one instance. Calls for a given
// instance are sequential and in stream order.
type Sink func(id string, data []byte)

type entry struct {
	mu       sync.Mutex
	pending  []byte
	timer    *time.Timer
	disposed bool
}

// Batcher is an independent consumer of the raw output stream, one lane per
// instance.
type Batcher struct {
	sink   Sink
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

func New(sink Sink) *Batcher {
	return NewWithWindow(sink, DefaultWindow)
}

func NewWithWindow(sink Sink, window time.Duration) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Batcher{
		sink:    sink,
		window:  window,
		entries: make(map[string]*entry),
	}
}

func (b *Batcher) entry(id string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		e = &entry{}
		b.entries[id] = e
	}
	return e
}

// Add accepts one raw chunk for id. The chunk is copied; callers reuse
// their read buffer.
func (b *Batcher) Add(id string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e := b.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}

	// Multi-byte script text (IME composition) bypasses batching entirely:
	// queueing it adds perceptible composition lag. Pending bytes go out
	// first so stream order is preserved.
	if hasWideRune(chunk) {
		b.flushLocked(id, e, "window")
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		b.sink(id, cp)
		metrics.IncBatchFlush("wide")
		return
	}

	e.pending = append(e.pending, chunk...)

	switch {
	case hasControlByte(chunk):
		b.flushLocked(id, e, "interactive")
	case len(chunk) < smallChunk:
		b.flushLocked(id, e, "small")
	case len(e.pending) >= maxPending:
		b.flushLocked(id, e, "size")
	default:
		if e.timer == nil {
			e.timer = time.AfterFunc(b.window, func() { b.deferredFlush(id, e) })
		}
	}
}

// flushLocked emits pending bytes for e. Caller holds e.mu, which keeps
// sink calls per instance sequential and ordered.
func (b *Batcher) flushLocked(id string, e *entry, reason string) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if len(e.pending) == 0 {
		return
	}
	data := e.pending
	e.pending = nil
	b.sink(id, data)
	metrics.IncBatchFlush(reason)
}

func (b *Batcher) deferredFlush(id string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.timer = nil
	if len(e.pending) == 0 {
		return
	}
	data := e.pending
	e.pending = nil
	b.sink(id, data)
	metrics.IncBatchFlush("window")
}

// Flush forces out anything pending for id.
func (b *Batcher) Flush(id string) {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.disposed {
		b.flushLocked(id, e, "forced")
	}
}

// Dispose cancels the instance's pending timer and drops its lane. A
// disposed instance never receives a deferred flush afterward.
func (b *Batcher) Dispose(id string) {
	b.mu.Lock()
	e, ok := b.entries[id]
	delete(b.entries, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = nil
}

// hasControlByte reports whether chunk contains an interactive control byte
// (carriage return, newline, tab, backspace, delete).
func hasControlByte(chunk []byte) bool {
	for _, c := range chunk {
		switch c {
		case '\r', '\n', '\t', '\b', 0x7f:
			return true
		}
	}
	return false
}

// hasWideRune reports whether chunk contains CJK ideographs, Hangul, or
// Kana, the script classes produced by East-Asian input methods.
func hasWideRune(chunk []byte) bool {
	for i := 0; i < len(chunk); {
		r, size := utf8.DecodeRune(chunk[i:])
		i += size
		if r == utf8.RuneError {
			continue
		}
		if isWide(r) {
			return true
		}
	}
	return false
}

func isWide(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK extension A
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul syllables
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana and Katakana
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // full-width forms
		return true
	}
	return false
}
