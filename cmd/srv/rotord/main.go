package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/exit-tools/rotord/pkg/fleet"
	"github.com/exit-tools/rotord/pkg/logging"
)

type flagOptions struct {
	ConfigFile  string `long:"config" description:"path to the fleet configuration file"`
	Units       int    `long:"units" env:"UNITS" description:"number of proxy units to supervise"`
	TestURL     string `long:"test-url" env:"TEST_URL" description:"URL fetched through each unit to verify it"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the supervisor (debug feature)"`
	Debug       bool   `long:"debug" env:"DEBUG" description:"enable debug logging"`
	LogFormat   string `long:"log-format" description:"log output format, console or json" default:"console"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Format = opts.LogFormat
	if opts.Debug {
		zapConfig.Level = "debug"
	}
	logger := logging.NewZapLogger(zapConfig)

	logger.Infof("opts: %+v", opts)

	fleetLogger := logging.WithPrefix(logger, logPrefix("rotord-fleet"))

	err = fleet.Run(fleet.RunOptions{
		ConfigFile:  opts.ConfigFile,
		Units:       opts.Units,
		TestURL:     opts.TestURL,
		RunDuration: opts.RunDuration,
	}, fleetLogger)
	if err != nil {
		logger.Errorf("Fleet runner failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("Fleet runner stopped")
}
