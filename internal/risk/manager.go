package risk

import (
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/events"
	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/monitoring"
)

// RiskManager chains the three gates in front of the execution worker.
// Every trade passes through in a fixed order: order-level limits,
// then strategy limits, then portfolio breakers. The first gate to
// refuse wins and its reason is returned untouched.
type RiskManager struct {
	sizer     *PositionSizer
	limits    *RiskLimits
	strategy  *StrategyRiskManager
	portfolio *PortfolioRiskManager
	bus       *events.Bus
	log       *logger.Logger

	mu           sync.Mutex
	lockedMargin map[string]float64 // jobID -> margin reserved at approval
}

// NewRiskManager wires the three gates together
func NewRiskManager(sizer *PositionSizer, limits *RiskLimits, strategy *StrategyRiskManager,
	portfolio *PortfolioRiskManager, bus *events.Bus, log *logger.Logger) *RiskManager {
	return &RiskManager{
		sizer:        sizer,
		limits:       limits,
		strategy:     strategy,
		portfolio:    portfolio,
		bus:          bus,
		log:          log,
		lockedMargin: make(map[string]float64),
	}
}

// CalculatePositionSize sizes an intent against current funds. The
// portfolio breaker is checked first so a halted book never wastes a
// sizing pass.
func (m *RiskManager) CalculatePositionSize(intent TradeIntent, lotSize int, funds broker.Funds, config StrategyRiskConfig) SizingResult {
	if allowed, reason := m.portfolio.IsTradingAllowed(); !allowed {
		rejection := Reject(RejectPortfolioBreaker, "%s", reason)
		m.log.Risk("Sizing refused for %s: %s", intent.Symbol, rejection)
		return SizingResult{
			LotSize:   lotSize,
			Rationale: reason,
			Success:   false,
			Rejection: rejection,
		}
	}

	return m.sizer.Calculate(SizingInput{
		Symbol:            intent.Symbol,
		Side:              string(intent.Side),
		SuggestedQuantity: intent.SuggestedQuantity,
		Price:             intent.ReferencePrice,
		LotSize:           lotSize,
		AvailableMargin:   funds.AvailableMargin - m.totalLocked(),
		TotalEquity:       funds.TotalEquity,
		Config:            config,
	})
}

// ApproveTrade runs a sized intent through all three gates. On
// approval the estimated cost is locked against the job until the
// worker reports completion, so concurrent approvals cannot oversubscribe
// the same margin.
func (m *RiskManager) ApproveTrade(intent TradeIntent, sizing SizingResult, funds broker.Funds) *Rejection {
	if rej := m.limits.CheckOrder(intent, sizing); rej != nil {
		return m.refuse(intent, rej, "order")
	}
	if rej := m.strategy.CheckStrategyLimits(intent); rej != nil {
		return m.refuse(intent, rej, "strategy")
	}
	if allowed, reason := m.portfolio.IsTradingAllowed(); !allowed {
		return m.refuse(intent, Reject(RejectPortfolioBreaker, "%s", reason), "portfolio")
	}

	m.mu.Lock()
	available := funds.AvailableMargin - m.totalLockedLocked()
	if sizing.EstimatedCost > available {
		m.mu.Unlock()
		rej := Reject(RejectInsufficientMargin,
			"estimated cost %.2f exceeds free margin %.2f after locks", sizing.EstimatedCost, available)
		return m.refuse(intent, rej, "order")
	}
	m.lockedMargin[intent.JobID] = sizing.EstimatedCost
	m.mu.Unlock()

	m.limits.RecordOrder()
	m.strategy.RecordEntry(intent.StrategyName, intent.Symbol)

	m.log.Risk("✅ Trade approved: %s %s x%d (%.2f locked)", intent.Side, intent.Symbol, sizing.FinalQuantity, sizing.EstimatedCost)
	monitoring.RecordRiskCheck(true)
	m.bus.Publish(events.NewEvent(events.EventRiskCheckPassed, events.PriorityNormal, "risk_manager").
		WithSymbol(intent.Symbol).WithJob(intent.JobID).
		WithData("quantity", sizing.FinalQuantity).
		WithData("estimated_cost", sizing.EstimatedCost))
	m.bus.Publish(events.NewEvent(events.EventMarginLocked, events.PriorityNormal, "risk_manager").
		WithJob(intent.JobID).WithData("amount", sizing.EstimatedCost))

	return nil
}

// ReleaseMargin frees the margin locked for a job once the worker has
// finished with it, whatever the outcome
func (m *RiskManager) ReleaseMargin(jobID string) {
	m.mu.Lock()
	amount, ok := m.lockedMargin[jobID]
	delete(m.lockedMargin, jobID)
	m.mu.Unlock()

	if ok {
		m.bus.Publish(events.NewEvent(events.EventMarginReleased, events.PriorityNormal, "risk_manager").
			WithJob(jobID).WithData("amount", amount))
	}
}

// LockedMargin returns the total margin reserved by in-flight jobs
func (m *RiskManager) LockedMargin() float64 {
	return m.totalLocked()
}

// Limits exposes the order-level gate for exposure updates
func (m *RiskManager) Limits() *RiskLimits { return m.limits }

// Strategy exposes the strategy-level gate for trade updates
func (m *RiskManager) Strategy() *StrategyRiskManager { return m.strategy }

// Portfolio exposes the portfolio-level gate for reconciliation
func (m *RiskManager) Portfolio() *PortfolioRiskManager { return m.portfolio }

// refuse logs, counts and publishes a gate rejection
func (m *RiskManager) refuse(intent TradeIntent, rej *Rejection, gate string) *Rejection {
	m.log.Risk("❌ Trade refused at %s gate: %s %s - %s", gate, intent.Side, intent.Symbol, rej)
	monitoring.RecordRiskCheck(false)
	monitoring.RecordRejection(string(rej.Code))
	m.bus.Publish(events.NewEvent(events.EventRiskCheckFailed, events.PriorityHigh, "risk_manager").
		WithSymbol(intent.Symbol).WithJob(intent.JobID).
		WithData("gate", gate).
		WithData("code", string(rej.Code)).
		WithData("reason", rej.Message))
	return rej
}

// RenderSummary formats the full risk picture as a console table
func (m *RiskManager) RenderSummary() string {
	exposure := m.limits.Summary()
	portfolio := m.portfolio.Snapshot()

	var sb strings.Builder
	t := table.NewWriter()
	t.SetOutputMirror(&sb)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total Equity", formatRationale("%.2f", portfolio.TotalEquity)},
		{"Peak Equity", formatRationale("%.2f", portfolio.PeakEquity)},
		{"Daily P&L", formatRationale("%.2f", portfolio.DailyPnL)},
		{"Drawdown", formatRationale("%.1f%%", portfolio.DrawdownPct*100)},
		{"Gross Leverage", formatRationale("%.2fx", portfolio.GrossLeverage)},
		{"Total Exposure", formatRationale("%.2f", exposure.TotalExposure)},
		{"Open Positions", exposure.OpenPositions},
		{"Orders Today", exposure.OrdersToday},
		{"Locked Margin", formatRationale("%.2f", m.totalLocked())},
	})
	if !portfolio.TradingAllowed {
		t.AppendSeparator()
		t.AppendRow(table.Row{"TRADING HALTED", portfolio.HaltReason})
	} else if exposure.BreakerTripped {
		t.AppendSeparator()
		t.AppendRow(table.Row{"ORDERS HALTED", exposure.BreakerReason})
	}
	t.Render()
	return sb.String()
}

func (m *RiskManager) totalLocked() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLockedLocked()
}

// totalLockedLocked sums locks with the mutex already held
func (m *RiskManager) totalLockedLocked() float64 {
	total := 0.0
	for _, amount := range m.lockedMargin {
		total += amount
	}
	return total
}
