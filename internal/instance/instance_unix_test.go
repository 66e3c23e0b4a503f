//go:build !windows

package instance

import (
	"bytes"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func shSpec(args ...string) Spec {
	return Spec{
		Session: "t",
		Command: "/bin/sh",
		Args:    args,
		Cols:    80,
		Rows:    24,
	}
}

func waitExit(t *testing.T, inst *Instance, d time.Duration) {
	t.Helper()
	select {
	case <-inst.Done():
	case <-time.After(d):
		t.Fatalf("process did not exit within %v", d)
	}
}

// readAll drains the pty until it closes and returns everything read.
func readAll(inst *Instance) []byte {
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := inst.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			return out.Bytes()
		}
	}
}

func TestStartAndNaturalExit(t *testing.T) {
	inst, err := Start(shSpec("-c", "echo hello"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer inst.Dispose(time.Second)

	if inst.ID == "" {
		t.Fatal("empty instance id")
	}
	if !inst.Visible() {
		t.Fatal("new instance should be visible")
	}
	out := readAll(inst)
	if !strings.Contains(string(out), "hello") {
		t.Fatalf("pty output %q missing child stdout", out)
	}
	waitExit(t, inst, 5*time.Second)
	if err := inst.ExitErr(); err != nil {
		t.Fatalf("clean exit reported error: %v", err)
	}
}

func TestWriteReachesChild(t *testing.T) {
	inst, err := Start(shSpec("-c", "read line; echo got:$line"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer inst.Dispose(time.Second)

	if err := inst.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := readAll(inst)
	if !strings.Contains(string(out), "got:ping") {
		t.Fatalf("child never echoed input: %q", out)
	}
	waitExit(t, inst, 5*time.Second)
}

func TestDisposeKillsProcessTree(t *testing.T) {
	// The shell forks a long-lived child; disposal must take out both.
	inst, err := Start(shSpec("-c", "sleep 300 & wait"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	kids := descendants(inst.Pid())
	if len(kids) == 0 {
		t.Fatal("expected a background child before dispose")
	}
	rootPid := inst.Pid()

	inst.Dispose(2 * time.Second)
	waitExit(t, inst, 5*time.Second)
	if inst.State() != StateDisposed {
		t.Fatalf("state = %v, want disposed", inst.State())
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !pidAlive(rootPid) && noneAlive(kids) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("process tree survived dispose (root=%d children=%v)", rootPid, kids)
}

func TestDisposeIsIdempotent(t *testing.T) {
	inst, err := Start(shSpec("-c", "sleep 300"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst.Dispose(time.Second)
	inst.Dispose(time.Second)
	inst.Dispose(time.Second)
	if inst.State() != StateDisposed {
		t.Fatalf("state = %v", inst.State())
	}
}

func TestControlCallsAfterDisposeAreNoops(t *testing.T) {
	inst, err := Start(shSpec("-c", "sleep 300"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	inst.Dispose(time.Second)
	if err := inst.Write([]byte("ignored\n")); err != nil {
		t.Fatalf("write after dispose: %v", err)
	}
	if err := inst.Resize(120, 40); err != nil {
		t.Fatalf("resize after dispose: %v", err)
	}
	if _, err := inst.Read(make([]byte, 16)); err == nil {
		// The pty may deliver buffered bytes; a closed pty must error
		// eventually.
		_ = readAll(inst)
	}
}

func TestResizeUpdatesSize(t *testing.T) {
	inst, err := Start(shSpec("-c", "sleep 300"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer inst.Dispose(time.Second)

	if err := inst.Resize(132, 50); err != nil {
		t.Fatalf("resize: %v", err)
	}
	cols, rows := inst.Size()
	if cols != 132 || rows != 50 {
		t.Fatalf("size = %dx%d, want 132x50", cols, rows)
	}
	if err := inst.Resize(0, 50); err == nil {
		t.Fatal("zero cols accepted")
	}
}

func TestShowHide(t *testing.T) {
	inst, err := Start(shSpec("-c", "sleep 300"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer inst.Dispose(time.Second)

	inst.Hide()
	if inst.Visible() {
		t.Fatal("still visible after Hide")
	}
	inst.Show()
	if !inst.Visible() {
		t.Fatal("not visible after Show")
	}
}

func TestStartRejectsBadCommand(t *testing.T) {
	_, err := Start(Spec{Session: "t", Command: "/no/such/binary", Cols: 80, Rows: 24})
	if err == nil {
		t.Fatal("expected spawn failure")
	}
}

func TestSpecDefaults(t *testing.T) {
	s := Spec{Session: "t"}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if s.Command == "" {
		t.Fatal("command default not applied")
	}
	if s.Cols != 80 || s.Rows != 24 {
		t.Fatalf("size defaults = %dx%d", s.Cols, s.Rows)
	}
	if err := (&Spec{}).Validate(); err == nil {
		t.Fatal("empty session accepted")
	}
}

func pidAlive(pid int) bool {
	// Signal 0 probes existence. A zombie still answers, so also check
	// its state has been reaped via a second probe after kill.
	err := syscall.Kill(pid, 0)
	if err != nil {
		return false
	}
	// Distinguish live from zombie by reading /proc when available.
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return true
	}
	// Field 3 of stat is the state letter.
	f := bytes.Fields(b)
	return len(f) < 3 || string(f[2]) != "Z"
}

func noneAlive(pids []int) bool {
	for _, p := range pids {
		if pidAlive(p) {
			return false
		}
	}
	return true
}
