package risk

import (
	"sync"
	"time"

	"github.com/rameshiyer27/bastion/internal/logger"
)

// maxTradeHistory bounds the rolling per-strategy trade window used
// for win-rate evaluation
const maxTradeHistory = 100

// strategyState tracks one registered strategy's live counters
type strategyState struct {
	config StrategyRiskConfig

	openPositions  int
	positionsBySym map[string]int
	tradesToday    int
	dailyPnL       float64
	peakPnL        float64
	cumulativePnL  float64
	recentOutcomes []bool // true = winning trade
	currentDay     string
}

// StrategyPerformance is a read-only view of one strategy's counters
type StrategyPerformance struct {
	StrategyName  string
	OpenPositions int
	TradesToday   int
	DailyPnL      float64
	CumulativePnL float64
	WinRate       float64
	SampleSize    int
}

// StrategyRiskManager is the strategy-level gate. Each strategy
// registers its own limits at startup; trades are then checked against
// that strategy's position counts, daily activity, loss limits and
// realized win rate.
type StrategyRiskManager struct {
	mu         sync.RWMutex
	strategies map[string]*strategyState
	log        *logger.Logger

	now func() time.Time
}

// NewStrategyRiskManager creates the strategy-level gate
func NewStrategyRiskManager(log *logger.Logger) *StrategyRiskManager {
	return &StrategyRiskManager{
		strategies: make(map[string]*strategyState),
		log:        log,
		now:        time.Now,
	}
}

// RegisterStrategy validates and registers a strategy's risk config.
// Re-registering replaces the config but keeps the live counters.
func (s *StrategyRiskManager) RegisterStrategy(config StrategyRiskConfig) error {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.strategies[config.StrategyName]; ok {
		existing.config = config
		s.log.Risk("Strategy %s risk config updated", config.StrategyName)
		return nil
	}

	s.strategies[config.StrategyName] = &strategyState{
		config:         config,
		positionsBySym: make(map[string]int),
		currentDay:     s.now().Format("2006-01-02"),
	}
	s.log.Risk("Strategy %s registered: risk/trade %.1f%%, max positions %d, max trades/day %d",
		config.StrategyName, config.RiskPerTrade*100, config.MaxConcurrentPositions, config.MaxTradesPerDay)
	return nil
}

// CheckStrategyLimits runs every strategy-level check for an intent.
// Checks run in a fixed order and the first failure wins.
func (s *StrategyRiskManager) CheckStrategyLimits(intent TradeIntent) *Rejection {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.strategies[intent.StrategyName]
	if !ok {
		return Reject(RejectStrategyNotRegistered, "strategy %s has no registered risk config", intent.StrategyName)
	}

	s.rolloverIfNewDay(state)
	cfg := state.config

	if state.openPositions >= cfg.MaxConcurrentPositions {
		return Reject(RejectStrategyLimit, "strategy %s at max concurrent positions (%d)",
			intent.StrategyName, cfg.MaxConcurrentPositions)
	}
	if state.positionsBySym[intent.Symbol] >= cfg.MaxPositionsPerSymbol {
		return Reject(RejectStrategyLimit, "strategy %s at max positions for %s (%d)",
			intent.StrategyName, intent.Symbol, cfg.MaxPositionsPerSymbol)
	}
	if state.tradesToday >= cfg.MaxTradesPerDay {
		return Reject(RejectStrategyLimit, "strategy %s at daily trade limit (%d)",
			intent.StrategyName, cfg.MaxTradesPerDay)
	}
	if cfg.MaxDailyLoss > 0 && state.dailyPnL <= -cfg.MaxDailyLoss {
		return Reject(RejectStrategyLimit, "strategy %s daily loss %.2f breached limit %.2f",
			intent.StrategyName, state.dailyPnL, cfg.MaxDailyLoss)
	}
	if state.peakPnL > 0 {
		drawdown := (state.peakPnL - state.cumulativePnL) / state.peakPnL
		if drawdown >= cfg.MaxDrawdown {
			return Reject(RejectStrategyLimit, "strategy %s drawdown %.1f%% breached limit %.1f%%",
				intent.StrategyName, drawdown*100, cfg.MaxDrawdown*100)
		}
	}
	if cfg.WinRateThreshold > 0 && len(state.recentOutcomes) >= cfg.WinRateMinTrades {
		winRate := winRateOf(state.recentOutcomes)
		if winRate < cfg.WinRateThreshold {
			return Reject(RejectStrategyLimit, "strategy %s win rate %.1f%% below threshold %.1f%% over %d trades",
				intent.StrategyName, winRate*100, cfg.WinRateThreshold*100, len(state.recentOutcomes))
		}
	}

	return nil
}

// RecordEntry counts a new open position against the strategy
func (s *StrategyRiskManager) RecordEntry(strategyName, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.strategies[strategyName]
	if !ok {
		return
	}
	s.rolloverIfNewDay(state)
	state.openPositions++
	state.positionsBySym[symbol]++
	state.tradesToday++
}

// CancelEntry backs out a RecordEntry for a trade that never reached
// the broker, without recording an outcome
func (s *StrategyRiskManager) CancelEntry(strategyName, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.strategies[strategyName]
	if !ok {
		return
	}
	if state.openPositions > 0 {
		state.openPositions--
	}
	if state.positionsBySym[symbol] > 0 {
		state.positionsBySym[symbol]--
		if state.positionsBySym[symbol] == 0 {
			delete(state.positionsBySym, symbol)
		}
	}
	if state.tradesToday > 0 {
		state.tradesToday--
	}
}

// UpdateStrategyTrade records a closed trade's outcome in the rolling
// window and updates the strategy P&L counters
func (s *StrategyRiskManager) UpdateStrategyTrade(strategyName, symbol string, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.strategies[strategyName]
	if !ok {
		return
	}
	s.rolloverIfNewDay(state)

	if state.openPositions > 0 {
		state.openPositions--
	}
	if state.positionsBySym[symbol] > 0 {
		state.positionsBySym[symbol]--
		if state.positionsBySym[symbol] == 0 {
			delete(state.positionsBySym, symbol)
		}
	}

	state.dailyPnL += pnl
	state.cumulativePnL += pnl
	if state.cumulativePnL > state.peakPnL {
		state.peakPnL = state.cumulativePnL
	}

	state.recentOutcomes = append(state.recentOutcomes, pnl > 0)
	if len(state.recentOutcomes) > maxTradeHistory {
		state.recentOutcomes = state.recentOutcomes[len(state.recentOutcomes)-maxTradeHistory:]
	}
}

// Performance returns the counters for one strategy
func (s *StrategyRiskManager) Performance(strategyName string) (StrategyPerformance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.strategies[strategyName]
	if !ok {
		return StrategyPerformance{}, false
	}

	return StrategyPerformance{
		StrategyName:  strategyName,
		OpenPositions: state.openPositions,
		TradesToday:   state.tradesToday,
		DailyPnL:      state.dailyPnL,
		CumulativePnL: state.cumulativePnL,
		WinRate:       winRateOf(state.recentOutcomes),
		SampleSize:    len(state.recentOutcomes),
	}, true
}

// Strategies lists all registered strategy names
func (s *StrategyRiskManager) Strategies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	return names
}

// rolloverIfNewDay resets one strategy's daily counters. Caller holds
// the write lock.
func (s *StrategyRiskManager) rolloverIfNewDay(state *strategyState) {
	day := s.now().Format("2006-01-02")
	if state.currentDay == day {
		return
	}
	state.currentDay = day
	state.tradesToday = 0
	state.dailyPnL = 0
}

func winRateOf(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	wins := 0
	for _, won := range outcomes {
		if won {
			wins++
		}
	}
	return float64(wins) / float64(len(outcomes))
}
