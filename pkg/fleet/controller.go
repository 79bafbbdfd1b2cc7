package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
	"github.com/exit-tools/rotord/pkg/services"
)

// Balancer is the controller's view of the edge balancer sitting in front
// of the fleet.
type Balancer interface {
	AddBackend(source services.BackendSource)
	Start() error
}

// ControllerOptions carries optional overrides for the controller's
// collaborators. Zero values select the real implementations.
type ControllerOptions struct {
	Balancer Balancer
	Spawn    process.SpawnFunc
	Probe    ProbeFunc
}

// Controller owns a fleet of proxy units and the balancer fronting them.
// It launches everything, then supervises the fleet in a perpetual
// rotate-probe-restart loop.
type Controller struct {
	config   *Config
	files    *processfile.ProcessFileManager
	spawn    process.SpawnFunc
	balancer Balancer
	probe    ProbeFunc
	units    []Unit
	logger   logging.Logger
}

func NewController(config *Config, logger logging.Logger) *Controller {
	return NewControllerWithOptions(config, ControllerOptions{}, logger)
}

func NewControllerWithOptions(config *Config, options ControllerOptions, logger logging.Logger) *Controller {
	files := processfile.NewProcessFileManager(config.Paths, logger)

	spawn := options.Spawn
	if spawn == nil {
		spawn = process.NewShellSpawn(logger)
	}

	balancer := options.Balancer
	if balancer == nil {
		balancer = services.NewHAProxy(config.Balancer, files, spawn, logger)
	}

	return &Controller{
		config:   config,
		files:    files,
		spawn:    spawn,
		balancer: balancer,
		probe:    options.Probe,
		logger:   logger,
	}
}

// Provision creates the configured number of proxy units and registers
// each one with the balancer. Unit ids run from 0 upwards; all ports
// follow from the id.
func (c *Controller) Provision() {
	for id := 0; id < c.config.Fleet.Units; id++ {
		c.AddUnit(NewProxyUnit(id, UnitOptions{
			TestURL:      c.config.Fleet.TestURL,
			ProbeTimeout: c.config.Fleet.ProbeTimeout,
			RestartGrace: c.config.Fleet.RestartGrace,
			Tor:          c.config.Tor,
			Polipo:       c.config.Polipo,
			Probe:        c.probe,
		}, c.files, c.spawn, c.logger))
	}
	c.logger.Infof("Provisioned %d proxy units", len(c.units))
}

// AddUnit appends a unit to the fleet and registers its public port as a
// balancer backend.
func (c *Controller) AddUnit(unit Unit) {
	c.units = append(c.units, unit)
	c.balancer.AddBackend(unit)
	c.logger.Debugf("Added proxy unit %d, public port: %d", unit.ID(), unit.PublicPort())
}

func (c *Controller) Units() []Unit {
	units := make([]Unit, len(c.units))
	copy(units, c.units)
	return units
}

// Start launches the balancer and then every unit. The first failure
// aborts the launch; a fleet that cannot come up whole should not come up
// at all.
func (c *Controller) Start() error {
	if len(c.units) == 0 {
		return errors.NewValidationError("no proxy units provisioned", nil)
	}

	c.logger.Infof("Starting edge balancer, backends: %d", len(c.units))
	if err := c.balancer.Start(); err != nil {
		return errors.NewProcessError("failed to start edge balancer", err)
	}

	for _, unit := range c.units {
		if err := unit.Start(); err != nil {
			return errors.NewProcessError(fmt.Sprintf("failed to start proxy unit %d", unit.ID()), err)
		}
	}

	c.logger.Infof("Started %d proxy units", len(c.units))
	return nil
}

// Cycle runs one supervision pass: rotate every unit's circuit identity,
// probe every unit, restart the ones that fail. Each failing unit gets
// exactly one restart attempt per cycle; a restart that fails is logged
// and left for the next pass.
func (c *Controller) Cycle() {
	c.logger.Infof("Resetting circuit identities")
	for _, unit := range c.units {
		unit.Rotate()
	}

	c.logger.Infof("Testing proxies")
	failures := errors.NewErrorCollection()
	for _, unit := range c.units {
		ok, detail := unit.Working()
		c.logger.Infof("Proxy unit %d on port %d working: %t", unit.ID(), unit.PublicPort(), ok)
		if ok {
			continue
		}

		c.logger.Warnf("Proxy unit %d is unhealthy: %s", unit.ID(), detail)
		if err := unit.Restart(); err != nil {
			c.logger.Errorf("Failed to restart proxy unit %d: %v", unit.ID(), err)
			failures.Add(errors.NewHealthCheckError(fmt.Sprintf("restart of proxy unit %d failed", unit.ID()), err))
		}
	}

	if failures.HasErrors() {
		c.logger.Warnf("%d proxy units failed to restart this cycle: %v", len(failures.Errors), failures)
	}
}

// Run launches the fleet and supervises it until the context is
// cancelled. Cancellation stops the loop only; the daemons stay up, held
// by nothing but their pid-files.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}

	c.logger.Infof("Waiting %v for daemons to settle", c.config.Fleet.SettleDelay)
	if !c.sleep(ctx, c.config.Fleet.SettleDelay) {
		c.logger.Infof("Shutdown requested, daemons stay up")
		return nil
	}

	for {
		c.Cycle()

		c.logger.Infof("Sleeping %v until the next cycle", c.config.Fleet.CycleInterval)
		if !c.sleep(ctx, c.config.Fleet.CycleInterval) {
			c.logger.Infof("Shutdown requested, daemons stay up")
			return nil
		}
	}
}

// sleep waits for the duration or the context, whichever ends first.
// Returns false when the context won.
func (c *Controller) sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
