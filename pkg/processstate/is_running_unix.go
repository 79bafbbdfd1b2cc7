//go:build !windows

package processstate

import (
	"os"
	"syscall"
)

// IsProcessRunning reports whether a process with the given pid exists.
// The answer is advisory only: the pid-file on disk remains the source of
// truth for daemon identity, and callers use this check for startup
// diagnostics rather than lifecycle decisions.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	// On Unix, FindProcess always succeeds regardless of whether the
	// process exists; signal 0 performs the actual existence check.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errno, ok := err.(syscall.Errno); ok && errno == syscall.EPERM {
		// The process exists but belongs to someone else.
		return true
	}
	return false
}
