package fleet

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/processfile"
	"github.com/exit-tools/rotord/pkg/services"
)

const (
	DefaultUnits         = 10
	DefaultTestURL       = "http://icanhazip.com"
	DefaultProbeTimeout  = 10 * time.Second
	DefaultSettleDelay   = 60 * time.Second
	DefaultCycleInterval = 60 * time.Second
	DefaultRestartGrace  = 5 * time.Second
)

// FleetOptions holds the knobs of the supervision loop itself.
type FleetOptions struct {
	// Units is the number of proxy units to provision.
	Units int `yaml:"units"`

	// TestURL is fetched through every unit's public port each cycle.
	TestURL string `yaml:"test_url,omitempty"`

	// ProbeTimeout bounds one liveness probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout,omitempty"`

	// SettleDelay is the one-off wait after the initial launch before the
	// first cycle; circuit routers need time to build their first circuits.
	SettleDelay time.Duration `yaml:"settle_delay,omitempty"`

	// CycleInterval is the pause between supervision cycles.
	CycleInterval time.Duration `yaml:"cycle_interval,omitempty"`

	// RestartGrace is the pause between stopping an unhealthy unit and
	// starting it again.
	RestartGrace time.Duration `yaml:"restart_grace,omitempty"`
}

// Config is the complete configuration of a proxy fleet.
type Config struct {
	Fleet    FleetOptions            `yaml:"fleet"`
	Balancer services.HAProxyOptions `yaml:"balancer,omitempty"`
	Tor      services.TorOptions     `yaml:"tor,omitempty"`
	Polipo   services.PolipoOptions  `yaml:"polipo,omitempty"`
	Paths    processfile.Paths       `yaml:"paths,omitempty"`
}

func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile reads and parses a YAML configuration file, filling
// defaults for everything the file leaves out.
func LoadConfigFromFile(filename string, logger logging.Logger) (*Config, error) {
	logger.Infof("Loading configuration, file: %s", filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("file", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse configuration file", err).WithContext("file", filename)
	}

	setConfigDefaults(&config)

	logger.Infof("Configuration loaded, units: %d", config.Fleet.Units)
	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.Fleet.Units == 0 {
		config.Fleet.Units = DefaultUnits
	}
	if config.Fleet.TestURL == "" {
		config.Fleet.TestURL = DefaultTestURL
	}
	if config.Fleet.ProbeTimeout == 0 {
		config.Fleet.ProbeTimeout = DefaultProbeTimeout
	}
	if config.Fleet.SettleDelay == 0 {
		config.Fleet.SettleDelay = DefaultSettleDelay
	}
	if config.Fleet.CycleInterval == 0 {
		config.Fleet.CycleInterval = DefaultCycleInterval
	}
	if config.Fleet.RestartGrace == 0 {
		config.Fleet.RestartGrace = DefaultRestartGrace
	}

	balancerDefaults := services.DefaultHAProxyOptions()
	if config.Balancer.ListenPort == 0 {
		config.Balancer.ListenPort = balancerDefaults.ListenPort
	}
	if config.Balancer.TemplatePath == "" {
		config.Balancer.TemplatePath = balancerDefaults.TemplatePath
	}
	if config.Balancer.ConfigPath == "" {
		config.Balancer.ConfigPath = balancerDefaults.ConfigPath
	}

	torDefaults := services.DefaultTorOptions()
	if config.Tor.NewCircuitPeriod == 0 {
		config.Tor.NewCircuitPeriod = torDefaults.NewCircuitPeriod
	}
	if config.Tor.MaxCircuitDirtiness == 0 {
		config.Tor.MaxCircuitDirtiness = torDefaults.MaxCircuitDirtiness
	}
	if config.Tor.CircuitBuildTimeout == 0 {
		config.Tor.CircuitBuildTimeout = torDefaults.CircuitBuildTimeout
	}
	if config.Tor.NewnymHelper == "" {
		config.Tor.NewnymHelper = torDefaults.NewnymHelper
	}

	pathDefaults := processfile.DefaultPaths()
	if config.Paths.LibDir == "" {
		config.Paths.LibDir = pathDefaults.LibDir
	}
	if config.Paths.RunDir == "" {
		config.Paths.RunDir = pathDefaults.RunDir
	}
	if config.Paths.LogDir == "" {
		config.Paths.LogDir = pathDefaults.LogDir
	}
}

// ValidateConfig checks a configuration for contradictions before any
// daemon is launched.
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}
	if err := validateFleetOptions(&config.Fleet); err != nil {
		return err
	}
	if err := validateBalancerOptions(&config.Balancer, config.Fleet.Units); err != nil {
		return err
	}
	if err := validateTorOptions(&config.Tor); err != nil {
		return err
	}
	if err := validatePaths(&config.Paths); err != nil {
		return err
	}
	return nil
}

func validateFleetOptions(options *FleetOptions) error {
	if options.Units < 1 || options.Units > MaxUnits {
		return errors.NewValidationError("unit count out of range", nil).
			WithContext("units", options.Units).
			WithContext("valid_range", fmt.Sprintf("1-%d", MaxUnits))
	}

	parsed, err := url.Parse(options.TestURL)
	if err != nil {
		return errors.NewValidationError("test URL is not a valid URL", err).WithContext("test_url", options.TestURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.NewValidationError("test URL must use http or https", nil).WithContext("test_url", options.TestURL)
	}
	if parsed.Host == "" {
		return errors.NewValidationError("test URL has no host", nil).WithContext("test_url", options.TestURL)
	}

	if options.ProbeTimeout <= 0 {
		return errors.NewValidationError("probe timeout must be positive", nil).WithContext("probe_timeout", options.ProbeTimeout)
	}
	if options.SettleDelay < 0 {
		return errors.NewValidationError("settle delay cannot be negative", nil).WithContext("settle_delay", options.SettleDelay)
	}
	if options.CycleInterval <= 0 {
		return errors.NewValidationError("cycle interval must be positive", nil).WithContext("cycle_interval", options.CycleInterval)
	}
	if options.RestartGrace <= 0 {
		return errors.NewValidationError("restart grace must be positive", nil).WithContext("restart_grace", options.RestartGrace)
	}

	return nil
}

func validateBalancerOptions(options *services.HAProxyOptions, units int) error {
	if options.ListenPort < 1 || options.ListenPort > 65535 {
		return errors.NewValidationError("balancer listen port out of range", nil).
			WithContext("listen_port", options.ListenPort)
	}

	// The listen port must stay clear of every port the units themselves
	// occupy.
	bands := []struct {
		name string
		base int
	}{
		{"client", ClientPortBase},
		{"public", ClientPortBase + PublicPortOffset},
		{"control", ControlPortBase},
	}
	for _, band := range bands {
		if options.ListenPort >= band.base && options.ListenPort < band.base+units {
			return errors.NewValidationError("balancer listen port collides with a unit port band", nil).
				WithContext("listen_port", options.ListenPort).
				WithContext("band", band.name)
		}
	}

	if options.TemplatePath == "" {
		return errors.NewValidationError("balancer template path cannot be empty", nil)
	}
	if options.ConfigPath == "" {
		return errors.NewValidationError("balancer config path cannot be empty", nil)
	}
	return nil
}

func validateTorOptions(options *services.TorOptions) error {
	if options.NewCircuitPeriod <= 0 {
		return errors.NewValidationError("new circuit period must be positive", nil).
			WithContext("new_circuit_period", options.NewCircuitPeriod)
	}
	if options.MaxCircuitDirtiness <= 0 {
		return errors.NewValidationError("max circuit dirtiness must be positive", nil).
			WithContext("max_circuit_dirtiness", options.MaxCircuitDirtiness)
	}
	if options.CircuitBuildTimeout <= 0 {
		return errors.NewValidationError("circuit build timeout must be positive", nil).
			WithContext("circuit_build_timeout", options.CircuitBuildTimeout)
	}
	if options.NewnymHelper == "" {
		return errors.NewValidationError("newnym helper path cannot be empty", nil)
	}
	return nil
}

func validatePaths(paths *processfile.Paths) error {
	if paths.LibDir == "" {
		return errors.NewValidationError("lib directory cannot be empty", nil)
	}
	if paths.RunDir == "" {
		return errors.NewValidationError("run directory cannot be empty", nil)
	}
	if paths.LogDir == "" {
		return errors.NewValidationError("log directory cannot be empty", nil)
	}
	return nil
}
