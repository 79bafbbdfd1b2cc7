//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupDetachedAttributes starts the spawned shell in a new session so that
// it is fully detached: it survives the supervisor and never receives the
// supervisor's terminal signals.
func setupDetachedAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
