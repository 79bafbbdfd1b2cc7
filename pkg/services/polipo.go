package services

import (
	"fmt"
	"strconv"

	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
)

const PolipoServiceName = "polipo"

// PolipoOptions tunes the forwarding proxy daemons.
type PolipoOptions struct {
	// ExecutablePath overrides the polipo binary location.
	ExecutablePath string `yaml:"executable_path,omitempty"`
}

// Polipo is one forwarding proxy instance. It accepts plain HTTP proxy
// requests on its public port and forwards them into its own circuit
// router's SOCKS port; the two are chained for life.
type Polipo struct {
	svc        *Service
	publicPort int
	socksAddr  string
}

func NewPolipo(publicPort, torSocksPort int, options PolipoOptions, files *processfile.ProcessFileManager, spawn process.SpawnFunc, logger logging.Logger) *Polipo {
	return &Polipo{
		svc: NewService(ServiceOptions{
			Name:           PolipoServiceName,
			Port:           publicPort,
			ExecutablePath: options.ExecutablePath,
			Files:          files,
			Spawn:          spawn,
			Logger:         logger,
		}),
		publicPort: publicPort,
		socksAddr:  fmt.Sprintf("127.0.0.1:%d", torSocksPort),
	}
}

func (p *Polipo) PublicPort() int {
	return p.publicPort
}

// Start launches the proxy detached. The daemon refuses to come up while a
// pid-file from a previous instance is still on disk, so any leftover is
// removed first.
func (p *Polipo) Start() error {
	if err := p.svc.EnsureDirectories(); err != nil {
		return err
	}

	binary, err := p.svc.Executable()
	if err != nil {
		return err
	}

	if p.svc.Running() {
		p.svc.logger.Warnf("A %s instance already holds pid-file %s; starting anyway", p.svc.Name(), p.svc.PIDFile())
	}
	if removed, err := p.svc.files.RemovePIDFile(p.svc.Name(), p.svc.Port()); err != nil {
		return err
	} else if removed {
		p.svc.logger.Infof("Removed stale pid-file for %s on port %d", p.svc.Name(), p.svc.Port())
	}

	p.svc.logger.Infof("Starting polipo, public port: %d, socks parent: %s", p.publicPort, p.socksAddr)

	return p.svc.Spawn(binary,
		"proxyPort="+strconv.Itoa(p.publicPort),
		"socksParentProxy="+p.socksAddr,
		"socksProxyType=socks5",
		"diskCacheRoot=''",
		"localDocumentRoot=''",
		"disableLocalInterface=true",
		"allowedClients=127.0.0.1",
		"dnsUseGethostbyname=yes",
		"logSyslog=true",
		"daemonise=true",
		"pidFile="+p.svc.PIDFile(),
		"disableVia=true",
		"|", "logger", "-t", "polipo", "2>&1")
}

// Stop signals the proxy through its pid-file. Never fails.
func (p *Polipo) Stop() {
	p.svc.Stop()
}
