// Package supervisor coordinates terminal instances: it spawns them,
// pumps their output to the log buffer and the display batcher in stream
// order, and converges explicit disposal and natural exit on one
// idempotent teardown per instance.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kyusang/termvisor/internal/batcher"
	"github.com/kyusang/termvisor/internal/history"
	"github.com/kyusang/termvisor/internal/instance"
	"github.com/kyusang/termvisor/internal/logbuf"
	"github.com/kyusang/termvisor/internal/metrics"
)

// ErrShuttingDown is returned by Create after Shutdown has begun.
var ErrShuttingDown = errors.New("supervisor is shutting down")

const eventQueue = 1024

// managed pairs an instance with its one-shot teardown bookkeeping.
type managed struct {
	inst     *instance.Instance
	readDone chan struct{}
	finalize sync.Once
}

// Info is the public snapshot of one instance.
type Info struct {
	ID        string         `json:"id"`
	Session   string         `json:"session"`
	Command   string         `json:"command"`
	PID       int            `json:"pid"`
	Cols      int            `json:"cols"`
	Rows      int            `json:"rows"`
	State     instance.State `json:"-"`
	StateName string         `json:"state"`
	Visible   bool           `json:"visible"`
	StartedAt time.Time      `json:"started_at"`
}

// Supervisor owns every live instance and the shared output pipeline.
type Supervisor struct {
	logs  *logbuf.Service
	disp  *batcher.Batcher
	hist  history.Sink
	grace time.Duration

	mu           sync.RWMutex
	instances    map[string]*managed
	closed       bool
	eventsClosed bool

	events chan Event
	wg     sync.WaitGroup
}

// Option tweaks a Supervisor.
type Option func(*Supervisor)

// WithGrace sets the disposal escalation grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// New wires the supervisor to the durability path (logs) and the history
// sink. The display batcher is owned here; its flushes surface as Data
// events on Events.
func New(logs *logbuf.Service, hist history.Sink, opts ...Option) *Supervisor {
	if hist == nil {
		hist = history.Nop{}
	}
	s := &Supervisor{
		logs:      logs,
		hist:      hist,
		grace:     instance.DefaultGrace,
		instances: make(map[string]*managed),
		events:    make(chan Event, eventQueue),
	}
	for _, o := range opts {
		o(s)
	}
	s.disp = batcher.New(func(id string, data []byte) {
		s.emit(Event{Type: EventData, InstanceID: id, Session: s.sessionOf(id), Data: data})
	})
	return s
}

// Events returns the supervisor's event sink. It is closed by Shutdown.
func (s *Supervisor) Events() <-chan Event { return s.events }

func (s *Supervisor) sessionOf(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.instances[id]; ok {
		return m.inst.Session
	}
	return ""
}

// emit never blocks the output path: a full queue drops the event. The
// read lock excludes the close in Shutdown, so a late pump flush can
// never send on a closed channel.
func (s *Supervisor) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		metrics.IncEventDrop()
	}
}

// Create spawns a new instance. On spawn failure nothing is registered
// and the error is returned synchronously.
func (s *Supervisor) Create(spec instance.Spec) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	s.mu.Unlock()

	inst, err := instance.Start(spec)
	if err != nil {
		return "", err
	}

	m := &managed{inst: inst, readDone: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		inst.Dispose(s.grace)
		return "", ErrShuttingDown
	}
	s.instances[inst.ID] = m
	s.mu.Unlock()

	metrics.IncSpawn()
	if err := s.hist.RecordSpawn(context.Background(), history.Record{
		InstanceID: inst.ID,
		Session:    inst.Session,
		Command:    spec.Command,
		PID:        inst.Pid(),
		StartedAt:  inst.StartedAt(),
	}); err != nil {
		slog.Warn("history spawn record failed", "instance", inst.ID, "error", err)
	}
	slog.Info("instance spawned", "instance", inst.ID, "session", inst.Session, "pid", inst.Pid())

	s.wg.Add(2)
	go s.readLoop(m)
	go s.watchExit(m)
	return inst.ID, nil
}

// readLoop pumps raw pty output. Chunks go to the session log buffer
// unconditionally and to the display batcher only while the instance is
// shown; both see them in the order the process produced them.
func (s *Supervisor) readLoop(m *managed) {
	defer s.wg.Done()
	defer close(m.readDone)
	inst := m.inst
	buf := make([]byte, 4096)
	for {
		n, err := inst.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.logs.Append(inst.Session, chunk)
			if inst.Visible() {
				s.disp.Add(inst.ID, chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// watchExit waits for the process to be reaped, lets the pump drain the
// pty's remaining buffered output, fires the exit event exactly once, then
// runs the shared disposal path. The drain wait is what guarantees every
// data event precedes the exit event.
func (s *Supervisor) watchExit(m *managed) {
	defer s.wg.Done()
	inst := m.inst
	<-inst.Done()
	select {
	case <-m.readDone:
	case <-time.After(2 * time.Second):
		slog.Warn("output pump did not drain after exit", "instance", inst.ID)
	}
	s.disp.Flush(inst.ID)
	metrics.IncExit()
	s.emit(Event{Type: EventExit, InstanceID: inst.ID, Session: inst.Session})
	s.finalize(m)
}

// finalize is the single teardown path shared by explicit Dispose,
// natural exit, and the shutdown sweep.
func (s *Supervisor) finalize(m *managed) {
	m.finalize.Do(func() {
		inst := m.inst
		inst.Dispose(s.grace)
		s.disp.Dispose(inst.ID)

		if orphans := inst.Orphans(); len(orphans) > 0 {
			slog.Warn("descendants survived tree termination", "instance", inst.ID, "pids", orphans)
		}

		s.mu.Lock()
		delete(s.instances, inst.ID)
		s.mu.Unlock()

		metrics.IncDisposal()
		if err := s.hist.RecordExit(context.Background(), inst.ID, time.Now(), inst.ExitErr()); err != nil {
			slog.Warn("history exit record failed", "instance", inst.ID, "error", err)
		}
		slog.Info("instance disposed", "instance", inst.ID, "session", inst.Session)
	})
}

func (s *Supervisor) lookup(id string) *managed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[id]
}

// Write forwards input bytes. No-op for unknown or disposed instances.
func (s *Supervisor) Write(id string, data []byte) error {
	m := s.lookup(id)
	if m == nil {
		return nil
	}
	return m.inst.Write(data)
}

// Resize propagates a terminal-size change. No-op for unknown instances.
func (s *Supervisor) Resize(id string, cols, rows int) error {
	m := s.lookup(id)
	if m == nil {
		return nil
	}
	return m.inst.Resize(cols, rows)
}

// Show routes the instance's output to the display boundary again.
func (s *Supervisor) Show(id string) {
	if m := s.lookup(id); m != nil {
		m.inst.Show()
	}
}

// Hide stops routing output to the display boundary. The process keeps
// running and its output keeps flowing to the session log.
func (s *Supervisor) Hide(id string) {
	if m := s.lookup(id); m != nil {
		m.inst.Hide()
	}
}

// Dispose terminates the instance's whole process tree. Idempotent; safe
// to race with the process's own exit.
func (s *Supervisor) Dispose(id string) {
	m := s.lookup(id)
	if m == nil {
		return
	}
	m.inst.Dispose(s.grace)
	s.finalize(m)
}

// List snapshots all live instances.
func (s *Supervisor) List() []Info {
	s.mu.RLock()
	ms := make([]*managed, 0, len(s.instances))
	for _, m := range s.instances {
		ms = append(ms, m)
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(ms))
	for _, m := range ms {
		inst := m.inst
		cols, rows := inst.Size()
		st := inst.State()
		infos = append(infos, Info{
			ID:        inst.ID,
			Session:   inst.Session,
			Command:   inst.Spec.Command,
			PID:       inst.Pid(),
			Cols:      cols,
			Rows:      rows,
			State:     st,
			StateName: st.String(),
			Visible:   inst.Visible(),
			StartedAt: inst.StartedAt(),
		})
	}
	return infos
}

// Get returns one instance's snapshot.
func (s *Supervisor) Get(id string) (Info, bool) {
	m := s.lookup(id)
	if m == nil {
		return Info{}, false
	}
	inst := m.inst
	cols, rows := inst.Size()
	st := inst.State()
	return Info{
		ID:        inst.ID,
		Session:   inst.Session,
		Command:   inst.Spec.Command,
		PID:       inst.Pid(),
		Cols:      cols,
		Rows:      rows,
		State:     st,
		StateName: st.String(),
		Visible:   inst.Visible(),
		StartedAt: inst.StartedAt(),
	}, true
}

// Shutdown forcibly disposes every remaining instance, waits for their
// pumps to drain (bounded by ctx), and closes the event sink.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	ms := make([]*managed, 0, len(s.instances))
	for _, m := range s.instances {
		ms = append(ms, m)
	}
	s.mu.Unlock()

	for _, m := range ms {
		m.inst.Dispose(s.grace)
		s.finalize(m)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown: output pumps did not drain in time")
	}

	s.mu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.mu.Unlock()
}
