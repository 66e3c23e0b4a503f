//go:build !windows

package instance

import (
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const defaultShell = "/bin/bash"

// terminateTree signals the child's whole process group. The pty spawn
// makes the child a session leader, so descendants started by shell
// builtins or pipelines share its group id and are reclaimed together.
func terminateTree(pid int, graceful bool) error {
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	err := syscall.Kill(-pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// descendants lists surviving descendants of pid, depth-first.
func descendants(pid int) []int {
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, int(c.Pid))
		out = append(out, descendants(int(c.Pid))...)
	}
	return out
}
