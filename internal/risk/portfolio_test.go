package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/logger"
)

func testPortfolioManager() *PortfolioRiskManager {
	return NewPortfolioRiskManager(PortfolioRiskConfig{
		MaxDailyLossPct:  0.03,
		MaxDrawdownPct:   0.10,
		MaxGrossLeverage: 2.0,
		MaxConcentration: 0.25,
	}, logger.NewDiscardLogger())
}

func stateWithEquity(equity float64) PortfolioState {
	return PortfolioState{
		Positions:   make(map[string]broker.Position),
		TotalEquity: equity,
	}
}

// TestPeakEquityNeverDecreases verifies the high-water mark only
// ratchets up through any sequence of state updates
func TestPeakEquityNeverDecreases(t *testing.T) {
	mgr := testPortfolioManager()

	equities := []float64{100000, 120000, 90000, 110000, 119999, 150000, 75000}
	peak := 0.0
	for _, equity := range equities {
		mgr.UpdatePortfolioState(stateWithEquity(equity))
		if equity > peak {
			peak = equity
		}
		assert.Equal(t, peak, mgr.State().PeakEquity)
	}
}

// TestLeverageBreaker verifies the gross leverage halt: 1,000,000
// equity carrying 1000 qty at 2500 is 2.5x gross, over the 2.0x limit
func TestLeverageBreaker(t *testing.T) {
	mgr := testPortfolioManager()

	state := stateWithEquity(1000000)
	state.Positions["NIFTY"] = broker.Position{
		Symbol:       "NIFTY",
		Quantity:     1000,
		AveragePrice: 2500,
	}
	mgr.UpdatePortfolioState(state)

	allowed, reason := mgr.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Contains(t, reason, "Gross leverage exceeded")
}

// TestDrawdownBreakerClearsOnRecovery verifies drawdown is
// re-evaluated fresh: a halt lifts once equity climbs back inside the
// limit
func TestDrawdownBreakerClearsOnRecovery(t *testing.T) {
	mgr := testPortfolioManager()

	mgr.UpdatePortfolioState(stateWithEquity(100000))
	mgr.UpdatePortfolioState(stateWithEquity(85000))

	allowed, reason := mgr.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Contains(t, reason, "drawdown")

	mgr.UpdatePortfolioState(stateWithEquity(95000))
	allowed, _ = mgr.IsTradingAllowed()
	assert.True(t, allowed)
}

// TestConcentrationBreaker verifies a single oversized position halts
// trading
func TestConcentrationBreaker(t *testing.T) {
	mgr := testPortfolioManager()

	state := stateWithEquity(1000000)
	state.Positions["RELIANCE"] = broker.Position{
		Symbol:       "RELIANCE",
		Quantity:     200,
		AveragePrice: 1500, // 300,000 notional, 30% of equity
	}
	mgr.UpdatePortfolioState(state)

	allowed, reason := mgr.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Contains(t, reason, "concentration")
}

// TestDailyLossBreakerLatches verifies the portfolio daily loss halt
// survives a P&L recovery within the same day
func TestDailyLossBreakerLatches(t *testing.T) {
	mgr := testPortfolioManager()
	mgr.UpdatePortfolioState(stateWithEquity(1000000))

	mgr.UpdatePnL(-35000, 0) // 3.5% loss, over the 3% limit
	allowed, _ := mgr.IsTradingAllowed()
	assert.False(t, allowed)

	mgr.UpdatePnL(5000, 0)
	allowed, _ = mgr.IsTradingAllowed()
	assert.False(t, allowed)
}

// TestPortfolioDailyLossRearmsNextDay verifies the latch releases at
// day rollover
func TestPortfolioDailyLossRearmsNextDay(t *testing.T) {
	mgr := testPortfolioManager()
	mgr.UpdatePortfolioState(stateWithEquity(1000000))

	current := time.Now()
	mgr.now = func() time.Time { return current }

	mgr.UpdatePnL(-35000, 0)
	allowed, _ := mgr.IsTradingAllowed()
	assert.False(t, allowed)

	current = current.Add(24 * time.Hour)
	allowed, _ = mgr.IsTradingAllowed()
	assert.True(t, allowed)
}

// TestBreakersHaltAtExactThreshold verifies leverage and concentration
// halt when the ratio lands exactly on the configured limit
func TestBreakersHaltAtExactThreshold(t *testing.T) {
	mgr := testPortfolioManager()
	state := stateWithEquity(1000000)
	state.Positions["NIFTY"] = broker.Position{
		Symbol:       "NIFTY",
		Quantity:     1000,
		AveragePrice: 2000, // 2,000,000 notional, exactly 2.0x
	}
	mgr.UpdatePortfolioState(state)

	allowed, reason := mgr.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Contains(t, reason, "Gross leverage exceeded")

	mgr = testPortfolioManager()
	state = stateWithEquity(1000000)
	state.Positions["RELIANCE"] = broker.Position{
		Symbol:       "RELIANCE",
		Quantity:     100,
		AveragePrice: 2500, // 250,000 notional, exactly 25%
	}
	mgr.UpdatePortfolioState(state)

	allowed, reason = mgr.IsTradingAllowed()
	assert.False(t, allowed)
	assert.Contains(t, reason, "concentration")
}
