package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("WritesToConfiguredFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "node.log")
		cfg := DefaultLogConfig()
		cfg.OutputPath = path

		logger, err := NewLogger(cfg)
		require.NoError(t, err)

		logger.Info("engine online", zap.String("feedID", "ETH/USD"))
		require.NoError(t, logger.Sync())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(content), "engine online"))
		assert.True(t, strings.Contains(string(content), "ETH/USD"))
	})

	t.Run("LevelFilters", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "node.log")
		cfg := DefaultLogConfig()
		cfg.OutputPath = path
		cfg.Level = "warn"

		logger, err := NewLogger(cfg)
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud")
		require.NoError(t, logger.Sync())

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(content), "quiet"))
		assert.True(t, strings.Contains(string(content), "loud"))
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		cfg := DefaultLogConfig()
		cfg.OutputPath = filepath.Join(t.TempDir(), "node.log")
		cfg.Level = "shout"

		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})
}

func TestLoggerWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	cfg := DefaultLogConfig()
	cfg.OutputPath = path

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	child := LoggerWithContext(logger, zap.String("component", "engine"))
	child.Info("hello")
	require.NoError(t, child.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), `"component":"engine"`))
}
