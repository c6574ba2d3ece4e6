//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so teardown
// can signal the whole server tree at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
