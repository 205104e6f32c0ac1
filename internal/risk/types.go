package risk

import (
	"fmt"

	"github.com/rameshiyer27/bastion/internal/broker"
)

// RejectCode identifies which gate or check refused a trade
type RejectCode string

const (
	RejectInvalidPrice           RejectCode = "INVALID_PRICE"
	RejectInvalidLotSize         RejectCode = "INVALID_LOT_SIZE"
	RejectInsufficientMargin     RejectCode = "INSUFFICIENT_MARGIN"
	RejectRateLimit              RejectCode = "RATE_LIMIT_EXCEEDED"
	RejectSymbolExposure         RejectCode = "SYMBOL_EXPOSURE_EXCEEDED"
	RejectCircuitBreaker         RejectCode = "CIRCUIT_BREAKER_ACTIVE"
	RejectStrategyLimit          RejectCode = "STRATEGY_LIMIT_EXCEEDED"
	RejectPortfolioBreaker       RejectCode = "PORTFOLIO_CIRCUIT_BREAKER_ACTIVE"
	RejectStrategyNotRegistered  RejectCode = "STRATEGY_NOT_REGISTERED"
	RejectPortfolioExposureLimit RejectCode = "PORTFOLIO_EXPOSURE_EXCEEDED"
)

// Rejection carries the gate decision back to the caller. Rejections
// are expected, frequent outcomes - they travel as values, never as
// errors, and always name exactly which check fired so limits can be
// audited and tuned.
type Rejection struct {
	Code    RejectCode
	Message string
}

// Reject builds a rejection with a formatted human-readable reason
func Reject(code RejectCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// String implements fmt.Stringer
func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// TradeIntent is an immutable trade request emitted by the strategy
// layer and consumed exactly once by the risk/execution pipeline
type TradeIntent struct {
	JobID             string
	Symbol            string
	Side              broker.OrderSide
	SuggestedQuantity int
	ReferencePrice    float64
	StrategyName      string
	Timeframe         string
}

// SizingMethod selects the position sizing algorithm
type SizingMethod string

const (
	SizePercentOfEquity SizingMethod = "PERCENT_OF_EQUITY"
	SizeFixedCash       SizingMethod = "FIXED_CASH"
)

// SizingResult is the outcome of a position sizing calculation.
// Derived per TradeIntent, never persisted.
type SizingResult struct {
	FinalQuantity  int
	NumLots        int
	LotSize        int
	RiskAmount     float64
	RiskPercentage float64
	EstimatedCost  float64
	Method         SizingMethod
	Rationale      string
	Success        bool
	Rejection      *Rejection
}

// StrategyRiskConfig holds per-strategy risk parameters. Constructed
// once, validated at registration, never mutated mid-evaluation.
type StrategyRiskConfig struct {
	StrategyName string `yaml:"strategy_name"`

	SizingMethod      SizingMethod `yaml:"sizing_method"`
	RiskPerTrade      float64      `yaml:"risk_per_trade"`       // fraction of equity risked per trade
	MaxPositionSize   float64      `yaml:"max_position_size"`    // fraction of equity per position
	FixedCashPerTrade float64      `yaml:"fixed_cash_per_trade"` // used by FIXED_CASH sizing

	MaxConcurrentPositions int `yaml:"max_concurrent_positions"`
	MaxPositionsPerSymbol  int `yaml:"max_positions_per_symbol"`
	MaxTradesPerDay        int `yaml:"max_trades_per_day"`

	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	WinRateThreshold float64 `yaml:"win_rate_threshold"`
	WinRateMinTrades int     `yaml:"win_rate_min_trades"` // samples required before the win-rate breaker arms
}

// Validate rejects unusable strategy configurations at registration time
func (c *StrategyRiskConfig) Validate() error {
	if c.StrategyName == "" {
		return fmt.Errorf("strategy name is required")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0, 1], got %.4f", c.RiskPerTrade)
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0, 1], got %.4f", c.MaxPositionSize)
	}
	if c.SizingMethod == SizeFixedCash && c.FixedCashPerTrade <= 0 {
		return fmt.Errorf("fixed_cash_per_trade must be positive for FIXED_CASH sizing")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive")
	}
	if c.MaxDrawdown <= 0 || c.MaxDrawdown >= 1 {
		return fmt.Errorf("max_drawdown must be in (0, 1), got %.4f", c.MaxDrawdown)
	}
	return nil
}

// ApplyDefaults fills optional fields with conservative values
func (c *StrategyRiskConfig) ApplyDefaults() {
	if c.SizingMethod == "" {
		c.SizingMethod = SizePercentOfEquity
	}
	if c.MaxPositionsPerSymbol <= 0 {
		c.MaxPositionsPerSymbol = 1
	}
	if c.MaxTradesPerDay <= 0 {
		c.MaxTradesPerDay = 20
	}
	if c.WinRateMinTrades <= 0 {
		c.WinRateMinTrades = 20
	}
}

// PortfolioState is the locally cached portfolio snapshot. Refreshed
// by reconciliation; the broker remains the source of truth.
type PortfolioState struct {
	Positions          map[string]broker.Position `json:"positions"`
	CashBalance        float64                    `json:"cash_balance"`
	TotalEquity        float64                    `json:"total_equity"`
	PeakEquity         float64                    `json:"peak_equity"` // monotonic high-water mark
	RealizedPnLToday   float64                    `json:"realized_pnl_today"`
	UnrealizedPnLToday float64                    `json:"unrealized_pnl_today"`
}
