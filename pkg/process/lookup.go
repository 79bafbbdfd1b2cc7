package process

import (
	"io/fs"
	"os/exec"

	"github.com/exit-tools/rotord/pkg/errors"
)

// ResolveExecutable locates the binary for a daemon. Plain names are looked
// up on PATH; names containing a path separator are checked directly. The
// caller treats a failure here as fatal at startup, before any daemon is
// launched.
func ResolveExecutable(name string) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("executable name cannot be empty", nil)
	}

	path, err := exec.LookPath(name)
	if err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == fs.ErrPermission {
			return "", errors.NewPermissionError("executable is not runnable: "+name, err)
		}
		return "", errors.NewNotFoundError("executable not found: "+name, err)
	}

	return path, nil
}
