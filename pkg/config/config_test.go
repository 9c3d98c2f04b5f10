package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HMA_TIMEFRAME_MINUTES", "")
	t.Setenv("REVERSAL_CONFIRMATION", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.HMATimeframe)
	assert.Equal(t, 15*time.Minute, cfg.ReversalConfirmation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HMA_SETTLE_DELAY", "750ms")
	t.Setenv("MOCK_SYMBOLS", " A , ,B")
	t.Setenv("ENV", "Production")
	t.Setenv("RETRY_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.HMASettleDelay)
	assert.Equal(t, []string{"A", "B"}, cfg.MockSymbols)
	assert.True(t, cfg.Production())
	assert.Equal(t, 3, cfg.RetryAttempts)
}
