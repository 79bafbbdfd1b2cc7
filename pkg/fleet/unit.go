package fleet

import (
	"fmt"
	"time"

	"github.com/exit-tools/rotord/pkg/logging"
	"github.com/exit-tools/rotord/pkg/monitoring"
	"github.com/exit-tools/rotord/pkg/process"
	"github.com/exit-tools/rotord/pkg/processfile"
	"github.com/exit-tools/rotord/pkg/services"
)

// Port scheme: every unit derives all of its ports from its integer id, so
// a unit's identity and its network endpoints are the same fact.
const (
	// ClientPortBase anchors the band of router SOCKS client ports.
	ClientPortBase = 10000

	// ControlPortBase anchors the band of router control ports.
	ControlPortBase = 30000

	// PublicPortOffset maps a client port onto the unit's public proxy
	// port.
	PublicPortOffset = 10000

	// MaxUnits keeps the three port bands disjoint.
	MaxUnits = 10000
)

func ClientPortFor(id int) int {
	return ClientPortBase + id
}

func ControlPortFor(id int) int {
	return ControlPortBase + id
}

func PublicPortFor(id int) int {
	return ClientPortFor(id) + PublicPortOffset
}

// socksProbeTimeout bounds the SOCKS diagnostic that runs after a failed
// HTTP probe.
const socksProbeTimeout = 2 * time.Second

// Unit is the fleet controller's view of one routable proxy unit.
type Unit interface {
	ID() int
	PublicPort() int
	Start() error
	Rotate()
	Working() (bool, string)
	Restart() error
}

// ProbeFunc checks one unit's public proxy port end to end.
type ProbeFunc func(config monitoring.ProxyProbeConfig) (bool, string)

// UnitOptions configures the proxy units of a fleet.
type UnitOptions struct {
	// TestURL is fetched through each unit's public port to verify the
	// whole chain.
	TestURL string

	// ProbeTimeout bounds one liveness probe.
	ProbeTimeout time.Duration

	// RestartGrace is the pause between stopping a unit's daemons and
	// starting them again.
	RestartGrace time.Duration

	Tor    services.TorOptions
	Polipo services.PolipoOptions

	// Probe overrides the liveness probe. Defaults to the HTTP probe.
	Probe ProbeFunc
}

// ProxyUnit couples one circuit router with the forwarding proxy chained to
// it. The pairing is fixed at construction; the two daemons live and die
// together.
type ProxyUnit struct {
	id           int
	tor          *services.Tor
	polipo       *services.Polipo
	testURL      string
	probeTimeout time.Duration
	restartGrace time.Duration
	probe        ProbeFunc
	socksCheck   func(socksAddr, target string, timeout time.Duration) (bool, string)
	logger       logging.Logger
}

func NewProxyUnit(id int, options UnitOptions, files *processfile.ProcessFileManager, spawn process.SpawnFunc, logger logging.Logger) *ProxyUnit {
	probe := options.Probe
	if probe == nil {
		probe = monitoring.CheckHTTPProxy
	}

	clientPort := ClientPortFor(id)
	return &ProxyUnit{
		id:           id,
		tor:          services.NewTor(id, clientPort, ControlPortFor(id), options.Tor, files, spawn, logger),
		polipo:       services.NewPolipo(PublicPortFor(id), clientPort, options.Polipo, files, spawn, logger),
		testURL:      options.TestURL,
		probeTimeout: options.ProbeTimeout,
		restartGrace: options.RestartGrace,
		probe:        probe,
		socksCheck:   monitoring.CheckSOCKS,
		logger:       logger,
	}
}

func (u *ProxyUnit) ID() int {
	return u.id
}

func (u *ProxyUnit) ClientPort() int {
	return ClientPortFor(u.id)
}

func (u *ProxyUnit) ControlPort() int {
	return ControlPortFor(u.id)
}

// PublicPort is the port the balancer spreads traffic over.
func (u *ProxyUnit) PublicPort() int {
	return PublicPortFor(u.id)
}

// Start brings up the unit's daemons, router first so the forwarding proxy
// has an upstream from its first request on.
func (u *ProxyUnit) Start() error {
	if err := u.tor.Start(); err != nil {
		return err
	}
	return u.polipo.Start()
}

// Stop signals both daemons through their pid-files. Never fails.
func (u *ProxyUnit) Stop() {
	u.tor.Stop()
	u.polipo.Stop()
}

// Restart always runs the full sequence: stop both daemons, wait out the
// grace delay, start both again. The grace delay gives the old processes
// time to release their ports.
func (u *ProxyUnit) Restart() error {
	u.logger.Infof("Restarting proxy unit %d", u.id)
	u.Stop()
	time.Sleep(u.restartGrace)
	return u.Start()
}

// Rotate requests a fresh circuit identity from the unit's router.
func (u *ProxyUnit) Rotate() {
	u.tor.Newnym()
}

// Working probes the unit end to end: one HTTP GET through the public port,
// true only for a clean 200. On failure a SOCKS diagnostic against the
// router narrows down which half of the chain is dead; its outcome is
// appended to the detail but never changes the verdict.
func (u *ProxyUnit) Working() (bool, string) {
	ok, detail := u.probe(monitoring.ProxyProbeConfig{
		URL:       u.testURL,
		ProxyAddr: fmt.Sprintf("127.0.0.1:%d", u.PublicPort()),
		Timeout:   u.probeTimeout,
	})
	if ok {
		return true, detail
	}

	if target, err := monitoring.DialTargetFromURL(u.testURL); err == nil {
		socksOK, socksDetail := u.socksCheck(fmt.Sprintf("127.0.0.1:%d", u.ClientPort()), target, socksProbeTimeout)
		if socksOK {
			detail += "; circuit router still answers, forwarding proxy suspect"
		} else {
			detail += "; " + socksDetail
		}
	}

	return false, detail
}
