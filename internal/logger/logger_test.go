package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewLoggerWithWritersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriters(false, &buf)
	l.Debug("hidden")
	l.Info("shown", zap.String("context", "alpha"))
	_ = l.Sync()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "alpha")
	assert.Contains(t, out, "INFO")
}

func TestNewLoggerWithWritersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriters(true, &buf)
	l.Debug("visible")
	_ = l.Sync()
	assert.Contains(t, buf.String(), "visible")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
