package process

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ProcessMockLogger struct{}

func (l *ProcessMockLogger) Debugf(msg string, args ...interface{}) {}
func (l *ProcessMockLogger) Infof(msg string, args ...interface{})  {}
func (l *ProcessMockLogger) Warnf(msg string, args ...interface{})  {}
func (l *ProcessMockLogger) Errorf(msg string, args ...interface{}) {}

func TestShellSpawnRejectsEmptyCommandLine(t *testing.T) {
	spawn := NewShellSpawn(&ProcessMockLogger{})

	err := spawn()
	assert.Error(t, err)
}

func TestShellSpawnRunsDetachedCommandLine(t *testing.T) {
	spawn := NewShellSpawn(&ProcessMockLogger{})
	marker := filepath.Join(t.TempDir(), "marker")

	// Spawn returns before the command line completes, so observe the
	// side effect instead of an exit status.
	err := spawn("echo", "spawned", ">", marker)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	content, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "spawned\n", string(content))
}

func TestShellSpawnSupportsPipelines(t *testing.T) {
	spawn := NewShellSpawn(&ProcessMockLogger{})
	marker := filepath.Join(t.TempDir(), "marker")

	err := spawn("echo", "one", "|", "tr", "n", "N", ">", marker)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		content, err := os.ReadFile(marker)
		return err == nil && string(content) == "oNe\n"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendSignal(t *testing.T) {
	// Signal 0 probes deliverability without touching the target.
	err := SendSignal(os.Getpid(), syscall.Signal(0))
	assert.NoError(t, err)

	err = SendSignal(999999999, syscall.Signal(0))
	assert.Error(t, err)
}
