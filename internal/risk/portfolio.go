package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/logger"
)

// PortfolioRiskConfig holds the account-wide breaker thresholds
type PortfolioRiskConfig struct {
	MaxDailyLossPct  float64 `yaml:"max_daily_loss_pct"` // fraction of equity
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct"`   // fraction below peak equity
	MaxGrossLeverage float64 `yaml:"max_gross_leverage"` // gross notional / equity
	MaxConcentration float64 `yaml:"max_concentration"`  // single position notional / equity
}

// ApplyDefaults fills unset thresholds with conservative values
func (c *PortfolioRiskConfig) ApplyDefaults() {
	if c.MaxDailyLossPct <= 0 {
		c.MaxDailyLossPct = 0.03
	}
	if c.MaxDrawdownPct <= 0 {
		c.MaxDrawdownPct = 0.10
	}
	if c.MaxGrossLeverage <= 0 {
		c.MaxGrossLeverage = 2.0
	}
	if c.MaxConcentration <= 0 {
		c.MaxConcentration = 0.25
	}
}

// PortfolioRiskSnapshot is the account-level view used for summaries
type PortfolioRiskSnapshot struct {
	TotalEquity      float64
	PeakEquity       float64
	DailyPnL         float64
	DrawdownPct      float64
	GrossLeverage    float64
	MaxPositionPct   float64
	TradingAllowed   bool
	HaltReason       string
	DailyLossTripped bool
}

// PortfolioRiskManager is the final gate: it watches account-wide
// health and halts all new entries when any breaker fires. The daily
// loss breaker latches for the rest of the trading day; drawdown,
// leverage and concentration are recomputed from the current portfolio
// state on every check, so they clear on their own once the condition
// clears.
type PortfolioRiskManager struct {
	mu     sync.RWMutex
	config PortfolioRiskConfig
	log    *logger.Logger

	state PortfolioState

	dailyLossTripped bool
	dailyLossReason  string
	currentDay       string

	now func() time.Time
}

// NewPortfolioRiskManager creates the portfolio-level gate
func NewPortfolioRiskManager(config PortfolioRiskConfig, log *logger.Logger) *PortfolioRiskManager {
	config.ApplyDefaults()
	return &PortfolioRiskManager{
		config: config,
		log:    log,
		state: PortfolioState{
			Positions: make(map[string]broker.Position),
		},
		now: time.Now,
	}
}

// UpdatePortfolioState replaces the cached portfolio snapshot with a
// reconciled one. Peak equity only ever ratchets up.
func (p *PortfolioRiskManager) UpdatePortfolioState(state PortfolioState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if state.TotalEquity > p.state.PeakEquity {
		state.PeakEquity = state.TotalEquity
	} else {
		state.PeakEquity = p.state.PeakEquity
	}
	if state.Positions == nil {
		state.Positions = make(map[string]broker.Position)
	}
	p.state = state
}

// UpdatePnL feeds the day's realized+unrealized P&L into the gate
func (p *PortfolioRiskManager) UpdatePnL(realized, unrealized float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rolloverIfNewDay()
	p.state.RealizedPnLToday = realized
	p.state.UnrealizedPnLToday = unrealized

	dailyPnL := realized + unrealized
	lossLimit := p.state.TotalEquity * p.config.MaxDailyLossPct
	if p.state.TotalEquity > 0 && dailyPnL <= -lossLimit && !p.dailyLossTripped {
		p.dailyLossTripped = true
		p.dailyLossReason = fmt.Sprintf("portfolio daily loss %.2f breached %.1f%% of equity (%.2f)",
			dailyPnL, p.config.MaxDailyLossPct*100, lossLimit)
		p.log.Critical("🚨 Portfolio daily loss breaker TRIPPED: %s", p.dailyLossReason)
	}
}

// IsTradingAllowed evaluates every portfolio breaker against the
// current state. Returns the reason when trading is halted.
func (p *PortfolioRiskManager) IsTradingAllowed() (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rolloverIfNewDay()

	if p.dailyLossTripped {
		return false, p.dailyLossReason
	}

	if p.state.TotalEquity <= 0 {
		return true, ""
	}

	if p.state.PeakEquity > 0 {
		drawdown := (p.state.PeakEquity - p.state.TotalEquity) / p.state.PeakEquity
		if drawdown >= p.config.MaxDrawdownPct {
			return false, fmt.Sprintf("drawdown %.1f%% exceeded limit %.1f%% (peak %.2f, current %.2f)",
				drawdown*100, p.config.MaxDrawdownPct*100, p.state.PeakEquity, p.state.TotalEquity)
		}
	}

	grossNotional := 0.0
	maxPositionNotional := 0.0
	for _, pos := range p.state.Positions {
		notional := pos.Notional()
		grossNotional += notional
		if notional > maxPositionNotional {
			maxPositionNotional = notional
		}
	}

	leverage := grossNotional / p.state.TotalEquity
	if leverage >= p.config.MaxGrossLeverage {
		return false, fmt.Sprintf("Gross leverage exceeded: %.2fx > %.2fx limit", leverage, p.config.MaxGrossLeverage)
	}

	concentration := maxPositionNotional / p.state.TotalEquity
	if concentration >= p.config.MaxConcentration {
		return false, fmt.Sprintf("position concentration %.1f%% exceeded limit %.1f%%",
			concentration*100, p.config.MaxConcentration*100)
	}

	return true, ""
}

// Snapshot returns the current account-level risk view
func (p *PortfolioRiskManager) Snapshot() PortfolioRiskSnapshot {
	allowed, reason := p.IsTradingAllowed()

	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := PortfolioRiskSnapshot{
		TotalEquity:      p.state.TotalEquity,
		PeakEquity:       p.state.PeakEquity,
		DailyPnL:         p.state.RealizedPnLToday + p.state.UnrealizedPnLToday,
		TradingAllowed:   allowed,
		HaltReason:       reason,
		DailyLossTripped: p.dailyLossTripped,
	}

	if p.state.PeakEquity > 0 {
		snap.DrawdownPct = (p.state.PeakEquity - p.state.TotalEquity) / p.state.PeakEquity
	}
	if p.state.TotalEquity > 0 {
		grossNotional := 0.0
		maxPositionNotional := 0.0
		for _, pos := range p.state.Positions {
			notional := pos.Notional()
			grossNotional += notional
			if notional > maxPositionNotional {
				maxPositionNotional = notional
			}
		}
		snap.GrossLeverage = grossNotional / p.state.TotalEquity
		snap.MaxPositionPct = maxPositionNotional / p.state.TotalEquity
	}

	return snap
}

// State returns a copy of the cached portfolio state
func (p *PortfolioRiskManager) State() PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := p.state
	state.Positions = make(map[string]broker.Position, len(p.state.Positions))
	for sym, pos := range p.state.Positions {
		state.Positions[sym] = pos
	}
	return state
}

// rolloverIfNewDay re-arms the daily loss breaker on a new trading
// day. Caller holds the write lock.
func (p *PortfolioRiskManager) rolloverIfNewDay() {
	day := p.now().Format("2006-01-02")
	if p.currentDay == "" {
		p.currentDay = day
		return
	}
	if day == p.currentDay {
		return
	}

	p.currentDay = day
	p.state.RealizedPnLToday = 0
	p.state.UnrealizedPnLToday = 0
	if p.dailyLossTripped {
		p.log.Risk("Portfolio daily loss breaker re-armed for trading day %s", day)
	}
	p.dailyLossTripped = false
	p.dailyLossReason = ""
}
