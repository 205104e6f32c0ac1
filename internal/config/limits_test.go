package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLimitsYAML = `
order_limits:
  max_orders_per_minute: 5
  max_orders_per_hour: 50
  max_orders_per_day: 200
  max_open_positions: 8
  max_total_exposure: 5000000
  max_daily_loss: 100000
  default_limit:
    max_lots: 18
  symbol_limits:
    NIFTY:
      max_lots: 36
      max_notional: 2000000

strategies:
  - strategy_name: trend
    sizing_method: PERCENT_OF_EQUITY
    risk_per_trade: 0.02
    max_position_size: 0.10
    max_concurrent_positions: 3
    max_drawdown: 0.15

lot_sizes:
  NIFTY: 50
  BANKNIFTY: 15
`

// TestLoadLimits verifies the YAML limits document parses into
// validated configs
func TestLoadLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleLimitsYAML), 0644))

	limits, err := LoadLimits(path)
	require.NoError(t, err)

	assert.Equal(t, 5, limits.OrderLimits.MaxOrdersPerMinute)
	assert.Equal(t, 36, limits.OrderLimits.SymbolLimits["NIFTY"].MaxLots)
	assert.Equal(t, 18, limits.OrderLimits.DefaultLimit.MaxLots)

	require.Len(t, limits.Strategies, 1)
	assert.Equal(t, "trend", limits.Strategies[0].StrategyName)
	// Defaults filled for optional fields
	assert.Equal(t, 1, limits.Strategies[0].MaxPositionsPerSymbol)

	assert.Equal(t, 50, limits.LotSizes["NIFTY"])
	assert.Equal(t, 15, limits.LotSizes["BANKNIFTY"])
}

// TestLoadLimitsRejectsInvalidStrategy verifies a bad strategy config
// fails the whole document
func TestLoadLimitsRejectsInvalidStrategy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_limits.yaml")

	bad := `
strategies:
  - strategy_name: broken
    risk_per_trade: 7.0
    max_position_size: 0.10
    max_concurrent_positions: 3
    max_drawdown: 0.15
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	_, err := LoadLimits(path)
	assert.Error(t, err)
}

// TestLoadLimitsMissingFile verifies a clear error for a missing path
func TestLoadLimitsMissingFile(t *testing.T) {
	_, err := LoadLimits(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
