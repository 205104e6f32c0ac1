package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/logger"
)

func testStrategyConfig(name string) StrategyRiskConfig {
	return StrategyRiskConfig{
		StrategyName:           name,
		RiskPerTrade:           0.02,
		MaxPositionSize:        0.10,
		MaxConcurrentPositions: 2,
		MaxTradesPerDay:        5,
		MaxDailyLoss:           10000,
		MaxDrawdown:            0.20,
	}
}

func strategyIntent(strategyName, symbol string) TradeIntent {
	return TradeIntent{
		Symbol:         symbol,
		Side:           broker.SideBuy,
		ReferencePrice: 100,
		StrategyName:   strategyName,
	}
}

// TestRegisterStrategyValidation verifies unusable configs are refused
// at registration
func TestRegisterStrategyValidation(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())

	cfg := testStrategyConfig("trend")
	cfg.RiskPerTrade = 1.5
	assert.Error(t, mgr.RegisterStrategy(cfg))

	cfg = testStrategyConfig("")
	assert.Error(t, mgr.RegisterStrategy(cfg))

	assert.NoError(t, mgr.RegisterStrategy(testStrategyConfig("trend")))
}

// TestUnregisteredStrategyIsRejected verifies intents from unknown
// strategies never pass the gate
func TestUnregisteredStrategyIsRejected(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())

	rej := mgr.CheckStrategyLimits(strategyIntent("ghost", "NIFTY"))
	assert.NotNil(t, rej)
	assert.Equal(t, RejectStrategyNotRegistered, rej.Code)
}

// TestConcurrentPositionLimit verifies the position count cap
func TestConcurrentPositionLimit(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())
	assert.NoError(t, mgr.RegisterStrategy(testStrategyConfig("trend")))

	mgr.RecordEntry("trend", "NIFTY")
	mgr.RecordEntry("trend", "BANKNIFTY")

	rej := mgr.CheckStrategyLimits(strategyIntent("trend", "FINNIFTY"))
	assert.NotNil(t, rej)
	assert.Equal(t, RejectStrategyLimit, rej.Code)

	// Closing a position frees a slot
	mgr.UpdateStrategyTrade("trend", "NIFTY", 500)
	assert.Nil(t, mgr.CheckStrategyLimits(strategyIntent("trend", "FINNIFTY")))
}

// TestPerSymbolPositionLimit verifies a strategy cannot stack
// positions on one symbol past its cap
func TestPerSymbolPositionLimit(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())

	cfg := testStrategyConfig("trend")
	cfg.MaxConcurrentPositions = 5
	cfg.MaxPositionsPerSymbol = 1
	assert.NoError(t, mgr.RegisterStrategy(cfg))

	mgr.RecordEntry("trend", "NIFTY")

	rej := mgr.CheckStrategyLimits(strategyIntent("trend", "NIFTY"))
	assert.NotNil(t, rej)
	assert.Equal(t, RejectStrategyLimit, rej.Code)
	assert.Nil(t, mgr.CheckStrategyLimits(strategyIntent("trend", "BANKNIFTY")))
}

// TestStrategyDailyLossLimit verifies the per-strategy loss breaker
func TestStrategyDailyLossLimit(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())
	assert.NoError(t, mgr.RegisterStrategy(testStrategyConfig("trend")))

	mgr.UpdateStrategyTrade("trend", "NIFTY", -12000)

	rej := mgr.CheckStrategyLimits(strategyIntent("trend", "NIFTY"))
	assert.NotNil(t, rej)
	assert.Equal(t, RejectStrategyLimit, rej.Code)
}

// TestWinRateBreakerNeedsSamples verifies the win-rate breaker only
// arms once enough trades have been observed
func TestWinRateBreakerNeedsSamples(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())

	cfg := testStrategyConfig("scalper")
	cfg.MaxDailyLoss = 0 // disabled, isolate the win-rate check
	cfg.WinRateThreshold = 0.40
	cfg.WinRateMinTrades = 5
	assert.NoError(t, mgr.RegisterStrategy(cfg))

	// Four losses: below the sample floor, still allowed
	for i := 0; i < 4; i++ {
		mgr.UpdateStrategyTrade("scalper", "NIFTY", -100)
	}
	assert.Nil(t, mgr.CheckStrategyLimits(strategyIntent("scalper", "NIFTY")))

	// Fifth loss arms the breaker at 0% win rate
	mgr.UpdateStrategyTrade("scalper", "NIFTY", -100)
	rej := mgr.CheckStrategyLimits(strategyIntent("scalper", "NIFTY"))
	assert.NotNil(t, rej)
	assert.Equal(t, RejectStrategyLimit, rej.Code)
}

// TestPerformanceTracking verifies the rolling counters
func TestPerformanceTracking(t *testing.T) {
	mgr := NewStrategyRiskManager(logger.NewDiscardLogger())
	assert.NoError(t, mgr.RegisterStrategy(testStrategyConfig("trend")))

	mgr.UpdateStrategyTrade("trend", "NIFTY", 1000)
	mgr.UpdateStrategyTrade("trend", "NIFTY", -400)

	perf, ok := mgr.Performance("trend")
	assert.True(t, ok)
	assert.Equal(t, 600.0, perf.CumulativePnL)
	assert.Equal(t, 0.5, perf.WinRate)
	assert.Equal(t, 2, perf.SampleSize)
}
