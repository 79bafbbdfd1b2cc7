package services

import (
	"path/filepath"
	"strconv"

	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
)

const TorServiceName = "tor"

// TorOptions tunes the circuit router daemons. The circuit lifetime knobs
// are deliberately aggressive: exits are disposable and rotated constantly.
type TorOptions struct {
	// NewCircuitPeriod is how often new circuits are considered, in seconds.
	NewCircuitPeriod int `yaml:"new_circuit_period,omitempty"`

	// MaxCircuitDirtiness caps circuit reuse, in seconds.
	MaxCircuitDirtiness int `yaml:"max_circuit_dirtiness,omitempty"`

	// CircuitBuildTimeout abandons slow circuit builds, in seconds.
	CircuitBuildTimeout int `yaml:"circuit_build_timeout,omitempty"`

	// NewnymHelper is the script invoked with the control port to request
	// a fresh circuit identity.
	NewnymHelper string `yaml:"newnym_helper,omitempty"`

	// ExecutablePath overrides the tor binary location.
	ExecutablePath string `yaml:"executable_path,omitempty"`
}

func DefaultTorOptions() TorOptions {
	return TorOptions{
		NewCircuitPeriod:    15,
		MaxCircuitDirtiness: 15,
		CircuitBuildTimeout: 5,
		NewnymHelper:        "/usr/local/bin/newnym.sh",
	}
}

// Tor is one disposable client-only circuit router instance. It owns a
// SOCKS client port, a control port, and a per-instance data directory.
type Tor struct {
	svc         *Service
	id          int
	socksPort   int
	controlPort int
	options     TorOptions
}

func NewTor(id, socksPort, controlPort int, options TorOptions, files *processfile.ProcessFileManager, spawn process.SpawnFunc, logger logging.Logger) *Tor {
	return &Tor{
		svc: NewService(ServiceOptions{
			Name:           TorServiceName,
			Port:           socksPort,
			ExecutablePath: options.ExecutablePath,
			Files:          files,
			Spawn:          spawn,
			Logger:         logger,
		}),
		id:          id,
		socksPort:   socksPort,
		controlPort: controlPort,
		options:     options,
	}
}

func (t *Tor) SocksPort() int {
	return t.socksPort
}

func (t *Tor) ControlPort() int {
	return t.controlPort
}

// DataDir returns the per-instance data directory; instances cannot share
// one.
func (t *Tor) DataDir() string {
	return filepath.Join(t.svc.DataDir(), strconv.Itoa(t.id))
}

// Start launches the router detached. The daemon forks itself into the
// background, writes the pid-file on its own, and logs pre-daemonization
// output through the system logger.
func (t *Tor) Start() error {
	if err := t.svc.EnsureDirectories(); err != nil {
		return err
	}

	binary, err := t.svc.Executable()
	if err != nil {
		return err
	}

	if t.svc.Running() {
		t.svc.logger.Warnf("A %s instance already holds pid-file %s; starting anyway", t.svc.Name(), t.svc.PIDFile())
	}

	t.svc.logger.Infof("Starting tor %d, socks port: %d, control port: %d", t.id, t.socksPort, t.controlPort)

	return t.svc.Spawn(binary,
		"--SocksPort", strconv.Itoa(t.socksPort),
		"--ControlPort", strconv.Itoa(t.controlPort),
		"--NewCircuitPeriod", strconv.Itoa(t.options.NewCircuitPeriod),
		"--MaxCircuitDirtiness", strconv.Itoa(t.options.MaxCircuitDirtiness),
		"--CircuitBuildTimeout", strconv.Itoa(t.options.CircuitBuildTimeout),
		"--UseEntryGuards", "0",
		"--AllowSingleHopCircuits", "1",
		"--ClientOnly", "1",
		"--DataDirectory", t.DataDir(),
		"--PidFile", t.svc.PIDFile(),
		"--Log", `"warn syslog"`,
		"--RunAsDaemon", "1",
		"|", "logger", "-t", "tor", "2>&1")
}

// Stop signals the router through its pid-file. Never fails.
func (t *Tor) Stop() {
	t.svc.Stop()
}

// Newnym requests a fresh circuit identity through the helper script. The
// request is fire-and-forget; nothing verifies the rotation took effect.
func (t *Tor) Newnym() {
	t.svc.logger.Debugf("Requesting new circuit identity, tor: %d, control port: %d", t.id, t.controlPort)
	if err := t.svc.Spawn(t.options.NewnymHelper, strconv.Itoa(t.controlPort)); err != nil {
		t.svc.logger.Warnf("Failed to launch newnym helper for tor %d: %v", t.id, err)
	}
}
