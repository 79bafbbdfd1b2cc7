package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingBackend struct {
	lines []string
}

func (r *recordingBackend) record(level string) LogFunc {
	return func(format string, args ...interface{}) {
		r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
	}
}

func (r *recordingBackend) funcs() LogFuncs {
	return LogFuncs{
		Debugf: r.record("debug"),
		Infof:  r.record("info"),
		Warnf:  r.record("warn"),
		Errorf: r.record("error"),
	}
}

func TestLoggerDispatchesByLevel(t *testing.T) {
	backend := &recordingBackend{}
	logger := NewLogger("", backend.funcs())

	logger.Debugf("d %d", 1)
	logger.Infof("i %d", 2)
	logger.Warnf("w %d", 3)
	logger.Errorf("e %d", 4)

	assert.Equal(t, []string{"debug: d 1", "info: i 2", "warn: w 3", "error: e 4"}, backend.lines)
}

func TestLoggerPrefix(t *testing.T) {
	backend := &recordingBackend{}
	logger := NewLogger("fleet: ", backend.funcs())

	logger.Infof("starting")

	assert.Equal(t, []string{"info: fleet: starting"}, backend.lines)
}

func TestWithPrefixSharesBackend(t *testing.T) {
	backend := &recordingBackend{}
	parent := NewLogger("fleet: ", backend.funcs())
	child := WithPrefix(parent, "unit 3: ")

	child.Warnf("probe failed")

	assert.Equal(t, []string{"warn: fleet: unit 3: probe failed"}, backend.lines)
}

func TestNilFuncsDropMessages(t *testing.T) {
	backend := &recordingBackend{}
	logger := NewLogger("", LogFuncs{Infof: backend.record("info")})

	logger.Debugf("dropped")
	logger.Infof("kept")

	assert.Equal(t, []string{"info: kept"}, backend.lines)
}
