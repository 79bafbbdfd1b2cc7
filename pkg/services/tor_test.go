package services

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exit-tools/rotord/pkg/errors"
)

func newTestTor(t *testing.T, fixture *servicesFixture, id, socksPort, controlPort int) *Tor {
	options := DefaultTorOptions()
	options.ExecutablePath = fixture.fakeExecutable(t, "tor-bin")
	options.NewnymHelper = "/usr/local/bin/newnym.sh"
	return NewTor(id, socksPort, controlPort, options, fixture.files, fixture.spawn.spawn, fixture.logger)
}

func TestTorStartCommandLine(t *testing.T) {
	fixture := newServicesFixture(t)
	tor := newTestTor(t, fixture, 3, 10003, 30003)

	require.NoError(t, tor.Start())
	require.Len(t, fixture.spawn.calls, 1)

	line := fixture.spawn.lines()[0]
	assert.Contains(t, line, "--SocksPort 10003")
	assert.Contains(t, line, "--ControlPort 30003")
	assert.Contains(t, line, "--NewCircuitPeriod 15")
	assert.Contains(t, line, "--MaxCircuitDirtiness 15")
	assert.Contains(t, line, "--CircuitBuildTimeout 5")
	assert.Contains(t, line, "--UseEntryGuards 0")
	assert.Contains(t, line, "--AllowSingleHopCircuits 1")
	assert.Contains(t, line, "--ClientOnly 1")
	assert.Contains(t, line, "--DataDirectory "+tor.DataDir())
	assert.Contains(t, line, fmt.Sprintf("--PidFile %s", fixture.files.PIDFilePath("tor", 10003)))
	assert.Contains(t, line, `--Log "warn syslog"`)
	assert.Contains(t, line, "--RunAsDaemon 1")
	assert.Contains(t, line, "| logger -t tor 2>&1")
}

func TestTorStartPreparesDirectories(t *testing.T) {
	fixture := newServicesFixture(t)
	tor := newTestTor(t, fixture, 0, 10000, 30000)

	require.NoError(t, tor.Start())

	assert.DirExists(t, fixture.files.DataDir("tor"))
	assert.DirExists(t, filepath.Dir(fixture.files.PIDFilePath("tor", 10000)))
}

func TestTorStartMissingExecutable(t *testing.T) {
	fixture := newServicesFixture(t)
	options := DefaultTorOptions()
	options.ExecutablePath = filepath.Join(fixture.root, "no-such-tor")
	tor := NewTor(0, 10000, 30000, options, fixture.files, fixture.spawn.spawn, fixture.logger)

	err := tor.Start()
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Empty(t, fixture.spawn.calls, "nothing may be launched without a binary")
}

func TestTorDataDirPerInstance(t *testing.T) {
	fixture := newServicesFixture(t)
	first := newTestTor(t, fixture, 0, 10000, 30000)
	second := newTestTor(t, fixture, 1, 10001, 30001)

	assert.NotEqual(t, first.DataDir(), second.DataDir())
	assert.Equal(t, filepath.Join(fixture.files.DataDir("tor"), "0"), first.DataDir())
	assert.Equal(t, filepath.Join(fixture.files.DataDir("tor"), "1"), second.DataDir())
}

func TestTorNewnym(t *testing.T) {
	fixture := newServicesFixture(t)
	tor := newTestTor(t, fixture, 2, 10002, 30002)

	tor.Newnym()

	require.Len(t, fixture.spawn.calls, 1)
	assert.Equal(t, []string{"/usr/local/bin/newnym.sh", "30002"}, fixture.spawn.calls[0])
}

func TestTorNewnymSpawnFailureOnlyWarns(t *testing.T) {
	fixture := newServicesFixture(t)
	fixture.spawn.err = errors.NewProcessError("launch failed", nil)
	tor := newTestTor(t, fixture, 2, 10002, 30002)

	// Must not panic; the failure is logged and the cycle moves on.
	tor.Newnym()

	assert.Contains(t, fixture.logger.joined(), "warn: Failed to launch newnym helper for tor 2")
}

func TestTorStartWarnsAboutLeftoverInstance(t *testing.T) {
	fixture := newServicesFixture(t)
	tor := newTestTor(t, fixture, 0, 10000, 30000)

	fixture.writePIDFile(t, "tor", 10000, 1)

	require.NoError(t, tor.Start())
	assert.Contains(t, fixture.logger.joined(), "already holds pid-file")
}
