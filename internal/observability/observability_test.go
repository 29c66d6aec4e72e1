package observability

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFallbackObserverCountsAndAlerts(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := NewFallbackObserver(zap.New(core))

	for i := 0; i < 10; i++ {
		o.RecordFallback("claude", "timeout")
	}
	o.RecordFallback("stub", "n/a")

	require.EqualValues(t, 10, o.Count("claude"))
	require.EqualValues(t, 1, o.Count("stub"))
	require.Equal(t, 11, logs.FilterMessage("provider fallback").Len())
	require.Equal(t, 1, logs.FilterMessage("provider fallback alert").Len())
}

func TestNilFallbackObserverIsSafe(t *testing.T) {
	var o *FallbackObserver
	o.RecordFallback("claude", "timeout")
	require.Zero(t, o.Count("claude"))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", false)
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger("warn", true)
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud", false)
	require.Error(t, err)
}
