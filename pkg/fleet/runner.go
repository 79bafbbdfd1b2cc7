package fleet

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exit-tools/rotord/pkg/errors"
	"github.com/exit-tools/rotord/pkg/logging"
)

// RunOptions carries the command line knobs of the supervisor.
type RunOptions struct {
	// ConfigFile points at a YAML configuration file. Empty means run on
	// defaults.
	ConfigFile string

	// Units overrides the configured unit count when positive.
	Units int

	// TestURL overrides the configured probe URL when non-empty.
	TestURL string

	// RunDuration stops the supervision loop after this many seconds.
	// Zero means run until a termination signal arrives.
	RunDuration int
}

// Run wires a controller from configuration and supervises the fleet until
// a termination signal or the optional run duration ends the loop.
func Run(options RunOptions, logger logging.Logger) error {
	logger.Infof("Fleet runner starting...")

	ctx := context.Background()
	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(options.RunDuration)*time.Second)
		defer cancel()
	}

	var config *Config
	if options.ConfigFile != "" {
		logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)
		loaded, err := LoadConfigFromFile(options.ConfigFile, logger)
		if err != nil {
			return err
		}
		config = loaded
	} else {
		logger.Infof("No configuration file given, using defaults")
		config = DefaultConfig()
	}

	if options.Units > 0 {
		config.Fleet.Units = options.Units
	}
	if options.TestURL != "" {
		config.Fleet.TestURL = options.TestURL
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).
			WithContext("config_file", options.ConfigFile)
	}

	logger.Infof("Supervising %d proxy units, balancer listen port: %d", config.Fleet.Units, config.Balancer.ListenPort)

	controller := NewController(config, logger)
	controller.Provision()

	// A termination signal stops the loop only; the daemons stay up.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	go func() {
		select {
		case receivedSignal := <-sig:
			logger.Infof("Fleet runner received signal: %v", receivedSignal)
			cancel()
		case <-runCtx.Done():
		}
	}()

	return controller.Run(runCtx)
}
