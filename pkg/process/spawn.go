package process

import (
	"os/exec"
	"strings"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
)

// SpawnFunc launches a command line without supervising it. Implementations
// return as soon as the command has been handed to the OS and never wait for
// completion; the launched daemon is expected to write a pid-file, which is
// the only handle the supervisor keeps on it.
type SpawnFunc func(args ...string) error

// NewShellSpawn returns the production SpawnFunc. The arguments are joined
// into a single command line and run through /bin/sh -c, so launch commands
// can carry shell syntax such as pipes into the system logger and embedded
// quoting. The shell runs in its own session, detached from the supervisor's
// terminal and signals.
func NewShellSpawn(logger logging.Logger) SpawnFunc {
	return func(args ...string) error {
		if len(args) == 0 {
			return errors.NewValidationError("spawn requires a command line", nil)
		}
		line := strings.Join(args, " ")

		cmd := exec.Command("/bin/sh", "-c", line)
		setupDetachedAttributes(cmd)

		logger.Debugf("Spawning command line: %s", line)

		if err := cmd.Start(); err != nil {
			return errors.NewProcessError("failed to spawn command line", err).WithContext("command", line)
		}

		// Reap the shell in the background so it cannot linger as a zombie.
		go func() {
			_ = cmd.Wait()
		}()

		return nil
	}
}
