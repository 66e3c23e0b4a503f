// Package logbuf buffers raw terminal output per session and flushes it to
// the durable log store in the background. The hot-path Append is a plain
// bounded enqueue: no I/O, no regex work, no classification. All of that is
// paid once per flush, amortized over the whole batch.
package logbuf

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kyusang/termvisor/internal/classifier"
	"github.com/kyusang/termvisor/internal/logstore"
	"github.com/kyusang/termvisor/internal/metrics"
)

const (
	// DefaultCapacity bounds each session's pending queue. Overflow drops
	// the oldest entry: the log is a best-effort diagnostic trail, not a
	// transaction log.
	DefaultCapacity = 1000
	// DefaultFlushInterval is how often non-empty buffers are flushed.
	DefaultFlushInterval = 5 * time.Second
	// minCleanLen discards classified records whose stripped text is
	// shorter than this.
	minCleanLen = 2
)

type sessionState struct {
	mu  sync.Mutex
	q   *ring
	cls classifier.State

	// flushMu serializes flushes so the periodic owner and a teardown
	// flush never interleave classification on the same state.
	flushMu sync.Mutex
}

// Service owns every session's pending buffer and the periodic flusher.
type Service struct {
	store   *logstore.Store
	trimmer *logstore.Trimmer

	capacity  int
	interval  time.Duration
	filtering func() bool
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState

	quit chan struct{}
	done chan struct{}
}

// Option tweaks a Service. The defaults match production use; tests shrink
// capacity and interval.
type Option func(*Service)

func WithCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the buffer to its durable store. filtering is read per
// flush so hot-reloaded config applies without restart; nil means always on.
func NewService(store *logstore.Store, trimmer *logstore.Trimmer, filtering func() bool, opts ...Option) *Service {
	s := &Service{
		store:     store,
		trimmer:   trimmer,
		capacity:  DefaultCapacity,
		interval:  DefaultFlushInterval,
		filtering: filtering,
		now:       time.Now,
		sessions:  make(map[string]*sessionState),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.filtering == nil {
		s.filtering = func() bool { return true }
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the periodic flush owner.
func (s *Service) Start() {
	go s.loop()
}

// Stop flushes every pending buffer once and stops the flusher.
func (s *Service) Stop() {
	close(s.quit)
	<-s.done
	s.FlushAll()
	s.trimmer.Stop()
}

func (s *Service) loop() {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.FlushAll()
		case <-s.quit:
			return
		}
	}
}

func (s *Service) state(session string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[session]
	if !ok {
		st = &sessionState{q: newRing(s.capacity)}
		s.sessions[session] = st
	}
	return st
}

// Append enqueues one raw chunk for session. It copies data (callers reuse
// their read buffer) and returns immediately; a full queue evicts its
// oldest entry.
func (s *Service) Append(session string, data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	st := s.state(session)
	st.mu.Lock()
	evicted := st.q.push(raw{at: s.now(), data: cp})
	st.mu.Unlock()
	if evicted {
		metrics.IncBufferDrop()
	}
}

// Pending reports how many chunks are queued for session.
func (s *Service) Pending(session string) int {
	s.mu.Lock()
	st, ok := s.sessions[session]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.q.len()
}

// FlushAll flushes every session with a non-empty buffer.
func (s *Service) FlushAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if err := s.Flush(name); err != nil {
			slog.Warn("session log flush failed", "session", name, "error", err)
		}
	}
}

// Flush drains the session's buffer, classifies each record when filtering
// is enabled, and appends the survivors to the durable log in one write.
func (s *Service) Flush(session string) error {
	s.mu.Lock()
	st, ok := s.sessions[session]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	st.flushMu.Lock()
	defer st.flushMu.Unlock()

	st.mu.Lock()
	pending := st.q.drain()
	st.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	filter := s.filtering()
	recs := make([]logstore.Record, 0, len(pending))
	for _, r := range pending {
		if !filter {
			recs = append(recs, logstore.Record{
				Timestamp: r.at,
				Kind:      logstore.RecordRaw,
				Raw:       r.data,
			})
			continue
		}
		res := classifier.Classify(&st.cls, r.data, r.at)
		if !res.ShouldLog {
			continue
		}
		clean := strings.TrimSpace(classifier.Strip(r.data))
		if len(clean) < minCleanLen {
			continue
		}
		kind := logstore.RecordOutput
		if res.Kind == classifier.KindCommand {
			kind = logstore.RecordCommand
		}
		recs = append(recs, logstore.Record{
			Timestamp: r.at,
			Kind:      kind,
			Raw:       r.data,
			Clean:     clean,
		})
	}
	metrics.AddDiscarded(len(pending) - len(recs))
	if len(recs) == 0 {
		return nil
	}
	if err := s.store.Append(session, recs); err != nil {
		return err
	}
	metrics.AddFlushed(len(recs))
	// The file grew; (re)arm the debounced retention trim.
	s.trimmer.Schedule(session)
	return nil
}

// DeleteSession flushes the session's pending buffer best-effort, cancels
// its trim timer, discards its classifier state, and removes the persisted
// log file.
func (s *Service) DeleteSession(session string) error {
	if err := s.Flush(session); err != nil {
		slog.Warn("final flush before delete failed", "session", session, "error", err)
	}
	s.trimmer.Cancel(session)
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
	return s.store.Delete(session)
}

// Release drops the session's in-memory state after a best-effort flush,
// keeping the persisted log intact.
func (s *Service) Release(session string) {
	if err := s.Flush(session); err != nil {
		slog.Warn("final flush failed", "session", session, "error", err)
	}
	s.trimmer.Cancel(session)
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}
