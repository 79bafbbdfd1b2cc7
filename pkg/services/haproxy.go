package services

import (
	"bytes"
	"os"
	"strconv"
	"text/template"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
)

const HAProxyServiceName = "haproxy"

// backendName is the label shared by every backend entry; entries are told
// apart by address:port alone.
const backendName = "tor"

// Backend is one rendered balancer target.
type Backend struct {
	Name    string
	Address string
	Port    int
}

// BackendSource is anything that exposes a public proxy port the balancer
// can spread traffic over.
type BackendSource interface {
	PublicPort() int
}

// HAProxyOptions configures the edge balancer.
type HAProxyOptions struct {
	// ListenPort is the single public port clients connect to.
	ListenPort int `yaml:"listen_port,omitempty"`

	// TemplatePath is the balancer config template.
	TemplatePath string `yaml:"template_path,omitempty"`

	// ConfigPath is where the rendered config is written.
	ConfigPath string `yaml:"config_path,omitempty"`

	// ExecutablePath overrides the haproxy binary location.
	ExecutablePath string `yaml:"executable_path,omitempty"`
}

func DefaultHAProxyOptions() HAProxyOptions {
	return HAProxyOptions{
		ListenPort:   5566,
		TemplatePath: "/etc/rotord/haproxy.cfg.tmpl",
		ConfigPath:   "/etc/rotord/haproxy.cfg",
	}
}

// HAProxy is the edge balancer: one public port spread round-robin over the
// registered forwarding proxies. The backend list only grows; units are
// fixed for the supervisor's lifetime.
type HAProxy struct {
	svc      *Service
	options  HAProxyOptions
	backends []Backend
}

// templateBinding is the data handed to the config template.
type templateBinding struct {
	ListenPort int
	Backends   []Backend
}

func NewHAProxy(options HAProxyOptions, files *processfile.ProcessFileManager, spawn process.SpawnFunc, logger logging.Logger) *HAProxy {
	defaults := DefaultHAProxyOptions()
	if options.ListenPort == 0 {
		options.ListenPort = defaults.ListenPort
	}
	if options.TemplatePath == "" {
		options.TemplatePath = defaults.TemplatePath
	}
	if options.ConfigPath == "" {
		options.ConfigPath = defaults.ConfigPath
	}

	return &HAProxy{
		svc: NewService(ServiceOptions{
			Name:           HAProxyServiceName,
			Port:           options.ListenPort,
			ExecutablePath: options.ExecutablePath,
			Files:          files,
			Spawn:          spawn,
			Logger:         logger,
		}),
		options: options,
	}
}

func (h *HAProxy) ListenPort() int {
	return h.options.ListenPort
}

// AddBackend appends one backend for the given source. Registration order
// is preserved in the rendered config.
func (h *HAProxy) AddBackend(source BackendSource) {
	backend := Backend{
		Name:    backendName,
		Address: "127.0.0.1",
		Port:    source.PublicPort(),
	}
	h.backends = append(h.backends, backend)
	h.svc.logger.Debugf("Registered balancer backend %s %s:%d", backend.Name, backend.Address, backend.Port)
}

// Backends returns a copy of the registered backend list.
func (h *HAProxy) Backends() []Backend {
	backends := make([]Backend, len(h.backends))
	copy(backends, h.backends)
	return backends
}

// RenderConfig produces the balancer config from the template and the
// registered backends. Rendering is deterministic: the same template and
// backend list always produce identical bytes.
func (h *HAProxy) RenderConfig() ([]byte, error) {
	content, err := os.ReadFile(h.options.TemplatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("balancer config template does not exist", err).WithContext("template", h.options.TemplatePath)
		}
		return nil, errors.NewIOError("failed to read balancer config template", err).WithContext("template", h.options.TemplatePath)
	}

	tmpl, err := template.New("haproxy").Parse(string(content))
	if err != nil {
		return nil, errors.NewValidationError("balancer config template is invalid", err).WithContext("template", h.options.TemplatePath)
	}

	var rendered bytes.Buffer
	binding := templateBinding{
		ListenPort: h.options.ListenPort,
		Backends:   h.Backends(),
	}
	if err := tmpl.Execute(&rendered, binding); err != nil {
		return nil, errors.NewInternalError("failed to render balancer config", err).WithContext("template", h.options.TemplatePath)
	}

	return rendered.Bytes(), nil
}

// WriteConfig renders the balancer config and writes it to the configured
// path. Render and write failures propagate to the caller.
func (h *HAProxy) WriteConfig() error {
	rendered, err := h.RenderConfig()
	if err != nil {
		return err
	}

	if err := os.WriteFile(h.options.ConfigPath, rendered, 0644); err != nil {
		return errors.NewIOError("failed to write balancer config", err).WithContext("config", h.options.ConfigPath)
	}

	h.svc.logger.Infof("Wrote balancer config, path: %s, backends: %d", h.options.ConfigPath, len(h.backends))
	return nil
}

// Start renders the config and launches the balancer detached. The daemon
// backgrounds itself and records its pid in the pid-file.
func (h *HAProxy) Start() error {
	if err := h.svc.EnsureDirectories(); err != nil {
		return err
	}

	if err := h.WriteConfig(); err != nil {
		return err
	}

	binary, err := h.svc.Executable()
	if err != nil {
		return err
	}

	if h.svc.Running() {
		h.svc.logger.Warnf("A %s instance already holds pid-file %s; starting anyway", h.svc.Name(), h.svc.PIDFile())
	}

	h.svc.logger.Infof("Starting haproxy, listen port: %d, backends: %d", h.options.ListenPort, len(h.backends))

	// The daemon directive in the rendered config backgrounds the process.
	return h.svc.Spawn(binary,
		"-f", h.options.ConfigPath,
		"-p", h.svc.PIDFile(),
		"|", "logger", "-t", "haproxy", "2>&1")
}

// SoftReload re-renders the config and hands the listening socket over to a
// fresh balancer process. The old process finishes in-flight requests and
// exits on its own.
func (h *HAProxy) SoftReload() error {
	if err := h.WriteConfig(); err != nil {
		return err
	}

	binary, err := h.svc.Executable()
	if err != nil {
		return err
	}

	oldPID, err := h.svc.files.ReadPID(h.svc.Name(), h.svc.Port())
	if err != nil {
		return errors.NewProcessError("cannot soft-reload without the old balancer pid", err)
	}

	h.svc.logger.Infof("Soft-reloading haproxy, old pid: %d", oldPID)

	return h.svc.Spawn(binary,
		"-f", h.options.ConfigPath,
		"-p", h.svc.PIDFile(),
		"-sf", strconv.Itoa(oldPID),
		"|", "logger", "-t", "haproxy", "2>&1")
}

// Stop signals the balancer through its pid-file. Never fails.
func (h *HAProxy) Stop() {
	h.svc.Stop()
}
