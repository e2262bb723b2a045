package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewBuildsLogger(t *testing.T) {
	logger, err := New(Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	require.NotNil(t, logger.Logger)

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewWritesServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("Lecture loaded")
	require.NoError(t, logger.Sync())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"service":"lectern"`)
	assert.Contains(t, string(out), `"message":"Lecture loaded"`)
}

func TestFromLevelFallsBack(t *testing.T) {
	logger := FromLevel("chatty", false)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	dev := FromLevel("chatty", true)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}
