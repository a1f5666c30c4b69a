package logging

import (
	"context"
	"errors"
	"grid_trader/internal/config"
	"grid_trader/pkg/telemetry"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup(config.TelemetryConfig{LogBridge: true, ServiceName: "test-logger"})
	require.NoError(t, err)
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	require.NoError(t, err)

	logger.Info("Test OTel bridging", "key", "value")
	logger.WithField("component", "test").Debug("Debug message", "error", errors.New("boom"))

	_ = logger.Sync()
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = ParseLevel("LOUD")
	assert.Error(t, err)
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger("verbose")
	assert.Error(t, err)
}
