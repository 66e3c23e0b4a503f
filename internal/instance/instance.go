// Package instance owns the lifecycle of one pseudo-terminal-backed child
// process: spawn, resize, write, display routing, and disposal of the whole
// process tree.
package instance

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// State is an instance's lifecycle state. Disposal is terminal: once
// disposed, every control call is a no-op, not an error.
type State int32

const (
	StateRunning State = iota
	StateExiting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// DefaultGrace is how long disposal waits after the graceful signal before
// escalating to a hard kill of the tree.
const DefaultGrace = 5 * time.Second

// Instance is one live terminal: exactly one OS process tree, one pty.
type Instance struct {
	ID      string
	Session string
	Spec    Spec

	mu       sync.Mutex
	cmd      *exec.Cmd
	ptmx     *os.File
	state    State
	visible  bool
	cols     int
	rows     int
	started  time.Time
	exitErr  error
	waitDone chan struct{}

	teardown sync.Once
}

// Start spawns the spec's command on a fresh pty. The pty start puts the
// child in its own session, so the whole process group can be signaled
// together at disposal. On failure no instance exists.
func Start(spec Spec) (*Instance, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	// #nosec G204 -- the command comes from the session owner by design
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(spec.Cols), // #nosec G115 -- validated > 0
		Rows: uint16(spec.Rows), // #nosec G115
	})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Command, err)
	}

	inst := &Instance{
		ID:       uuid.NewString(),
		Session:  spec.Session,
		Spec:     spec,
		cmd:      cmd,
		ptmx:     ptmx,
		state:    StateRunning,
		visible:  true,
		cols:     spec.Cols,
		rows:     spec.Rows,
		started:  time.Now(),
		waitDone: make(chan struct{}),
	}
	go inst.reap()
	return inst, nil
}

// reap is the single waiter on the child. It closes Done when the process
// has been reaped, which both natural-exit handling and Dispose block on.
func (i *Instance) reap() {
	err := i.cmd.Wait()
	i.mu.Lock()
	i.exitErr = err
	i.mu.Unlock()
	close(i.waitDone)
}

// Done is closed once the underlying process has exited and been reaped.
func (i *Instance) Done() <-chan struct{} { return i.waitDone }

// ExitErr returns the process's wait error, if any. Only meaningful after
// Done is closed.
func (i *Instance) ExitErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitErr
}

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) Pid() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

func (i *Instance) StartedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}

// Size returns the current terminal dimensions.
func (i *Instance) Size() (cols, rows int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cols, i.rows
}

// Read reads the next raw output chunk from the pty. It returns an error
// once the pty is closed by disposal or process exit.
func (i *Instance) Read(p []byte) (int, error) {
	i.mu.Lock()
	ptmx := i.ptmx
	i.mu.Unlock()
	if ptmx == nil {
		return 0, os.ErrClosed
	}
	return ptmx.Read(p)
}

// Write forwards bytes to the process's input. No-op once disposed.
func (i *Instance) Write(data []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateDisposed || i.ptmx == nil {
		return nil
	}
	_, err := i.ptmx.Write(data)
	return err
}

// Resize propagates a size change to the pty. No-op once disposed.
func (i *Instance) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateDisposed || i.ptmx == nil {
		return nil
	}
	i.cols, i.rows = cols, rows
	return pty.Setsize(i.ptmx, &pty.Winsize{
		Cols: uint16(cols), // #nosec G115 -- validated > 0
		Rows: uint16(rows), // #nosec G115
	})
}

// Show and Hide toggle display routing only; the process never notices.

func (i *Instance) Show() {
	i.mu.Lock()
	i.visible = true
	i.mu.Unlock()
}

func (i *Instance) Hide() {
	i.mu.Lock()
	i.visible = false
	i.mu.Unlock()
}

func (i *Instance) Visible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible
}

// Dispose terminates the whole process tree and releases the pty. It is
// idempotent and safe to call concurrently with the process's own exit:
// both paths converge on the same one-shot teardown.
func (i *Instance) Dispose(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	i.teardown.Do(func() { i.dispose(grace) })
}

func (i *Instance) dispose(grace time.Duration) {
	i.mu.Lock()
	if i.state == StateRunning {
		i.state = StateExiting
	}
	pid := 0
	if i.cmd != nil && i.cmd.Process != nil {
		pid = i.cmd.Process.Pid
	}
	i.mu.Unlock()

	if pid > 0 {
		// Killing only the top-level pid leaves orphans whenever the shell
		// spawned subprocesses; always target the whole tree.
		_ = terminateTree(pid, true)
		select {
		case <-i.waitDone:
		case <-time.After(grace):
			_ = terminateTree(pid, false)
			select {
			case <-i.waitDone:
			case <-time.After(200 * time.Millisecond):
				// best-effort; the shutdown sweep takes a final pass
			}
		}
	}

	i.mu.Lock()
	if i.ptmx != nil {
		_ = i.ptmx.Close()
		i.ptmx = nil
	}
	i.state = StateDisposed
	i.mu.Unlock()
}

// Orphans reports descendant pids that survived termination. Used for
// post-dispose diagnostics; an empty slice is the expected result.
func (i *Instance) Orphans() []int {
	pid := i.Pid()
	if pid <= 0 {
		return nil
	}
	return descendants(pid)
}
