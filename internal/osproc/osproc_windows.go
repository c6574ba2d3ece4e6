//go:build windows

package osproc

import (
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// Alive returns true if a process with the given pid exists on Windows.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return true
}

// TerminateTree kills the process tree rooted at pid. Windows has no SIGTERM
// equivalent for arbitrary processes, so graceful shutdown degrades to
// taskkill on the tree followed by a bounded liveness wait.
func TerminateTree(pid int, grace time.Duration) bool {
	if pid <= 0 || !Alive(pid) {
		return true
	}
	// taskkill /T walks child processes for us.
	// #nosec G204
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(pollStep)
	}
	// #nosec G204
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
	deadline = time.Now().Add(reapWindow)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(pollStep)
	}
	return !Alive(pid)
}
