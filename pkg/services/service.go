package services

import (
	"sync"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
	"github.com/exit-tools/rotord/pkg/processstate"
)

// Service is the capability record shared by every managed daemon: a logical
// name that namespaces its directories, the instance port that namespaces
// its pid-file, and the handles needed to launch and signal it. The daemon
// writes its own pid-file after detaching; no in-memory state tracks it.
type Service struct {
	name     string
	port     int
	execName string

	resolveOnce sync.Once
	execPath    string
	execErr     error

	files  *processfile.ProcessFileManager
	spawn  process.SpawnFunc
	logger logging.Logger
}

// ServiceOptions configures one managed daemon instance.
type ServiceOptions struct {
	// Name is the service name, shared by all instances of a daemon kind.
	Name string

	// Port is the primary port of this instance; it identifies the
	// instance's pid-file.
	Port int

	// ExecutablePath overrides the binary location. When empty, Name is
	// looked up on PATH.
	ExecutablePath string

	Files  *processfile.ProcessFileManager
	Spawn  process.SpawnFunc
	Logger logging.Logger
}

func NewService(options ServiceOptions) *Service {
	execName := options.ExecutablePath
	if execName == "" {
		execName = options.Name
	}

	return &Service{
		name:     options.Name,
		port:     options.Port,
		execName: execName,
		files:    options.Files,
		spawn:    options.Spawn,
		logger:   options.Logger,
	}
}

func (s *Service) Name() string {
	return s.name
}

func (s *Service) Port() int {
	return s.port
}

// Executable resolves the daemon binary once and caches the answer. A
// missing binary is reported on the first start attempt, before anything is
// launched.
func (s *Service) Executable() (string, error) {
	s.resolveOnce.Do(func() {
		s.execPath, s.execErr = process.ResolveExecutable(s.execName)
		if s.execErr == nil {
			s.logger.Debugf("Resolved executable for %s: %s", s.name, s.execPath)
		}
	})
	return s.execPath, s.execErr
}

// DataDir returns the service-wide data directory root.
func (s *Service) DataDir() string {
	return s.files.DataDir(s.name)
}

// PIDFile returns the pid-file path this instance's daemon is expected to
// write after detaching.
func (s *Service) PIDFile() string {
	return s.files.PIDFilePath(s.name, s.port)
}

// EnsureDirectories prepares the data and pid-file directories.
func (s *Service) EnsureDirectories() error {
	return s.files.EnsureServiceDirs(s.name)
}

// Spawn launches a command line through the configured spawn function.
func (s *Service) Spawn(args ...string) error {
	return s.spawn(args...)
}

// Running reports whether the instance's pid-file names a live process.
// Advisory only: start routines use it to warn about leftovers from a
// previous supervisor run.
func (s *Service) Running() bool {
	pid, err := s.files.ReadPID(s.name, s.port)
	if err != nil {
		return false
	}
	return processstate.IsProcessRunning(pid)
}

// Stop signals the instance's recorded process to terminate. It never
// fails: an absent pid-file means the instance is simply not running, and
// a signaling failure is logged and swallowed.
func (s *Service) Stop() {
	pid, err := s.files.ReadPID(s.name, s.port)
	if err != nil {
		if errors.IsNotFoundError(err) {
			s.logger.Infof("%s on port %d is not running", s.name, s.port)
			return
		}
		s.logger.Warnf("Cannot read pid-file for %s on port %d: %v", s.name, s.port, err)
		return
	}

	s.logger.Infof("Stopping %s on port %d, pid: %d", s.name, s.port, pid)
	if err := process.SendSignal(pid, process.TerminationSignal); err != nil {
		s.logger.Warnf("Failed to signal %s on port %d, pid: %d: %v", s.name, s.port, pid, err)
	}
}
