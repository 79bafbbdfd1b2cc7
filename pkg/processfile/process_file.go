package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
)

const (
	DefaultLibDir = "/var/lib"
	DefaultRunDir = "/var/run"
	DefaultLogDir = "/var/log"
)

// Paths holds the filesystem roots under which every managed daemon keeps
// its state. Each daemon gets a subdirectory named after its service under
// every root. Tests override the roots to point at a temp directory.
type Paths struct {
	LibDir string `yaml:"lib_dir,omitempty"` // daemon data directories
	RunDir string `yaml:"run_dir,omitempty"` // pid-files
	LogDir string `yaml:"log_dir,omitempty"` // daemon log output
}

func DefaultPaths() Paths {
	return Paths{
		LibDir: DefaultLibDir,
		RunDir: DefaultRunDir,
		LogDir: DefaultLogDir,
	}
}

// ProcessFileManager generates per-service paths and handles pid-file
// access. Daemons write their own pid-files; the supervisor only reads and
// occasionally removes them.
type ProcessFileManager struct {
	paths  Paths
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager. Empty roots fall
// back to the conventional system layout.
func NewProcessFileManager(paths Paths, logger logging.Logger) *ProcessFileManager {
	if paths.LibDir == "" {
		paths.LibDir = DefaultLibDir
	}
	if paths.RunDir == "" {
		paths.RunDir = DefaultRunDir
	}
	if paths.LogDir == "" {
		paths.LogDir = DefaultLogDir
	}

	return &ProcessFileManager{
		paths:  paths,
		logger: logger,
	}
}

// DataDir returns the data directory root for the given service.
func (m *ProcessFileManager) DataDir(service string) string {
	return filepath.Join(m.paths.LibDir, service)
}

// LogDir returns the log directory for the given service. The daemons
// mostly log through syslog, but the directory is kept available for the
// ones configured to write files.
func (m *ProcessFileManager) LogDir(service string) string {
	return filepath.Join(m.paths.LogDir, service)
}

// PIDFilePath returns the pid-file path for one instance of the given
// service. Instances of a service are told apart by their primary port.
func (m *ProcessFileManager) PIDFilePath(service string, port int) string {
	return filepath.Join(m.paths.RunDir, service, fmt.Sprintf("%d.pid", port))
}

// EnsureServiceDirs creates the data, pid-file and log directories for a
// service and verifies the pid-file directory is writable, so that a daemon
// failing to record its pid surfaces at startup rather than at the first
// stop.
func (m *ProcessFileManager) EnsureServiceDirs(service string) error {
	dataDir := m.DataDir(service)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return errors.NewIOError("failed to create data directory", err).WithContext("directory", dataDir)
	}

	runDir := filepath.Join(m.paths.RunDir, service)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return errors.NewIOError("failed to create pid-file directory", err).WithContext("directory", runDir)
	}

	logDir := m.LogDir(service)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return errors.NewIOError("failed to create log directory", err).WithContext("directory", logDir)
	}

	testFile := filepath.Join(runDir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("pid-file directory is not writable", err).WithContext("directory", runDir)
	}
	file.Close()
	os.Remove(testFile)

	m.logger.Debugf("Service directories ready, service: %s, data: %s, run: %s", service, dataDir, runDir)
	return nil
}

// HasPIDFile reports whether a pid-file exists for the given instance.
func (m *ProcessFileManager) HasPIDFile(service string, port int) bool {
	_, err := os.Stat(m.PIDFilePath(service, port))
	return err == nil
}

// ReadPID reads and parses the pid recorded for the given instance. An
// absent pid-file is a not-found error so callers can tell "not running"
// apart from a real failure.
func (m *ProcessFileManager) ReadPID(service string, port int) (int, error) {
	pidFilePath := m.PIDFilePath(service, port)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("pid-file does not exist", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read pid-file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid pid in pid-file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}
	if pid <= 0 {
		return 0, errors.NewValidationError("pid must be positive", nil).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	return pid, nil
}

// RemovePIDFile deletes the pid-file for the given instance if present and
// reports whether anything was removed. Some daemons refuse to start while
// a stale pid-file from a previous instance is still on disk.
func (m *ProcessFileManager) RemovePIDFile(service string, port int) (bool, error) {
	pidFilePath := m.PIDFilePath(service, port)

	err := os.Remove(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewIOError("failed to remove pid-file", err).WithContext("pid_file", pidFilePath)
	}

	m.logger.Debugf("Removed pid-file: %s", pidFilePath)
	return true, nil
}
