package osproc

import "time"

// Package osproc holds the OS-level process primitives the registry and
// launcher rely on: PID liveness, process start time lookup (used to guard
// against PID reuse), and graceful-then-forced termination of a process tree.

const (
	// pollStep is how often termination waits re-check liveness.
	pollStep = 50 * time.Millisecond
	// reapWindow bounds the confirmation wait after a force kill.
	reapWindow = 2 * time.Second
)
