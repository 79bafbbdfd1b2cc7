//go:build !windows

package process

import (
	"syscall"
)

// TerminationSignal asks a daemon for an orderly shutdown.
const TerminationSignal = syscall.SIGTERM

// SendSignal delivers sig to the process with the given pid. Delivery
// failures surface unchanged (ESRCH for a dead pid, EPERM for a foreign
// one); the caller decides whether they matter.
func SendSignal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
