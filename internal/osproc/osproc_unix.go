//go:build !windows

package osproc

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// Alive returns true if a process with the given pid exists (or EPERM).
// On Linux a zombie is treated as not alive: a quickly-exiting child that
// has not been reaped yet must not count as a running server.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// TerminateTree attempts graceful termination of the process group rooted at
// pid (SIGTERM), waits up to grace for it to exit, then escalates to SIGKILL
// for the whole group. Returns true once the process is confirmed gone or was
// already gone.
func TerminateTree(pid int, grace time.Duration) bool {
	if pid <= 0 || !Alive(pid) {
		return true
	}
	// Signal the whole group first; fall back to the single pid when the
	// target is not a group leader.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(pollStep)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	deadline = time.Now().Add(reapWindow)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(pollStep)
	}
	return !Alive(pid)
}
