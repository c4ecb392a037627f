package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/houyanchao/coderun/config"
)

func TestNew(t *testing.T) {
	t.Run("Development", func(t *testing.T) {
		log, err := New("development", "debug")
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("Production", func(t *testing.T) {
		log, err := New("production", "warn")
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("InvalidMode", func(t *testing.T) {
		_, err := New("verbose", "info")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging mode")
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		_, err := New("production", "loudest")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging level")
	})
}

func TestNewFromConfig(t *testing.T) {
	log, err := NewFromConfig(&config.Config{Logging: config.LoggingConfig{Mode: "production", Level: "error"}})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.WarnLevel))
}
