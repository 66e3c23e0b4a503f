//go:build windows

package instance

import (
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const defaultShell = "cmd.exe"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// terminateTree kills the process tree rooted at pid, leaves first, by
// walking the child relation. Windows has no group signal, so the walk is
// the only way to avoid orphans; graceful has no meaning here.
func terminateTree(pid int, _ bool) error {
	for _, child := range descendants(pid) {
		_ = killPid(child)
	}
	return killPid(pid)
}

// descendants lists surviving descendants of pid, children before parents
// so leaves die first.
func descendants(pid int) []int {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []int
	for _, c := range children {
		out = append(out, descendants(int(c.Pid))...)
		out = append(out, int(c.Pid))
	}
	return out
}

func killPid(pid int) error {
	if pid <= 0 {
		return nil
	}
	handle, err := openProcess(processTerminate, uint32(pid))
	if err != nil {
		// Already gone; common during rapid teardown.
		return nil
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func openProcess(access uint32, pid uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(0), uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
