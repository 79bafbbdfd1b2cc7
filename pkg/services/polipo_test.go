package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exit-tools/rotord/pkg/errors"
)

func newTestPolipo(t *testing.T, fixture *servicesFixture, publicPort, torSocksPort int) *Polipo {
	options := PolipoOptions{ExecutablePath: fixture.fakeExecutable(t, "polipo-bin")}
	return NewPolipo(publicPort, torSocksPort, options, fixture.files, fixture.spawn.spawn, fixture.logger)
}

func TestPolipoStartCommandLine(t *testing.T) {
	fixture := newServicesFixture(t)
	polipo := newTestPolipo(t, fixture, 20003, 10003)

	require.NoError(t, polipo.Start())
	require.Len(t, fixture.spawn.calls, 1)

	line := fixture.spawn.lines()[0]
	assert.Contains(t, line, "proxyPort=20003")
	assert.Contains(t, line, "socksParentProxy=127.0.0.1:10003")
	assert.Contains(t, line, "socksProxyType=socks5")
	assert.Contains(t, line, "disableLocalInterface=true")
	assert.Contains(t, line, "allowedClients=127.0.0.1")
	assert.Contains(t, line, "daemonise=true")
	assert.Contains(t, line, "pidFile="+fixture.files.PIDFilePath("polipo", 20003))
	assert.Contains(t, line, "logSyslog=true")
	assert.Contains(t, line, "| logger -t polipo 2>&1")
}

func TestPolipoStartRemovesStalePIDFile(t *testing.T) {
	fixture := newServicesFixture(t)
	polipo := newTestPolipo(t, fixture, 20000, 10000)

	// A leftover pid-file from a crashed instance; the daemon would
	// refuse to start over it.
	fixture.writePIDFile(t, "polipo", 20000, 999999999)

	require.NoError(t, polipo.Start())

	assert.False(t, fixture.files.HasPIDFile("polipo", 20000))
	assert.Contains(t, fixture.logger.joined(), "Removed stale pid-file")
}

func TestPolipoStartMissingExecutable(t *testing.T) {
	fixture := newServicesFixture(t)
	options := PolipoOptions{ExecutablePath: filepath.Join(fixture.root, "no-such-polipo")}
	polipo := NewPolipo(20000, 10000, options, fixture.files, fixture.spawn.spawn, fixture.logger)

	err := polipo.Start()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Empty(t, fixture.spawn.calls)
}

func TestPolipoPublicPort(t *testing.T) {
	fixture := newServicesFixture(t)
	polipo := newTestPolipo(t, fixture, 20007, 10007)

	assert.Equal(t, 20007, polipo.PublicPort())
}
