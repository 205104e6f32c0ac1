package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rameshiyer27/bastion/internal/logger"
)

// ExposureLimits caps what a single symbol may carry
type ExposureLimits struct {
	MaxLots        int     `yaml:"max_lots"`
	MaxNotional    float64 `yaml:"max_notional"`
	MaxNetQuantity int     `yaml:"max_net_quantity"`
}

// RiskLimitsConfig holds the order-level gate parameters. Loaded from
// the limits file and hot-reloadable.
type RiskLimitsConfig struct {
	MaxOrdersPerMinute int `yaml:"max_orders_per_minute"`
	MaxOrdersPerHour   int `yaml:"max_orders_per_hour"`
	MaxOrdersPerDay    int `yaml:"max_orders_per_day"`

	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxTotalExposure float64 `yaml:"max_total_exposure"`

	MaxDailyLoss float64 `yaml:"max_daily_loss"`

	SymbolLimits map[string]ExposureLimits `yaml:"symbol_limits"`
	DefaultLimit ExposureLimits            `yaml:"default_limit"`
}

// ApplyDefaults fills unset fields with conservative values
func (c *RiskLimitsConfig) ApplyDefaults() {
	if c.MaxOrdersPerMinute <= 0 {
		c.MaxOrdersPerMinute = 10
	}
	if c.MaxOrdersPerHour <= 0 {
		c.MaxOrdersPerHour = 100
	}
	if c.MaxOrdersPerDay <= 0 {
		c.MaxOrdersPerDay = 500
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 10
	}
	if c.DefaultLimit.MaxLots <= 0 {
		c.DefaultLimit.MaxLots = 20
	}
}

// symbolExposure tracks what the core believes is deployed on one symbol
type symbolExposure struct {
	NetQuantity int
	Lots        int
	Notional    float64
}

// ExposureSummary is a point-in-time view of tracked exposure, used by
// the risk summary table and the reconciliation log
type ExposureSummary struct {
	OrdersLastMinute int
	OrdersLastHour   int
	OrdersToday      int
	OpenPositions    int
	TotalExposure    float64
	DailyPnL         float64
	BreakerTripped   bool
	BreakerReason    string
}

// RiskLimits is the order-level gate. It enforces submission rate
// limits, per-symbol and portfolio-wide exposure caps, and a daily
// loss circuit breaker that stays tripped for the rest of the trading
// day once hit.
type RiskLimits struct {
	mu     sync.RWMutex
	config RiskLimitsConfig
	log    *logger.Logger

	orderTimes []time.Time
	ordersDay  int
	currentDay string

	exposures     map[string]*symbolExposure
	totalExposure float64

	dailyPnL       float64
	breakerTripped bool
	breakerReason  string

	now func() time.Time
}

// NewRiskLimits creates the order-level gate
func NewRiskLimits(config RiskLimitsConfig, log *logger.Logger) *RiskLimits {
	config.ApplyDefaults()
	return &RiskLimits{
		config:    config,
		log:       log,
		exposures: make(map[string]*symbolExposure),
		now:       time.Now,
	}
}

// UpdateConfig swaps in new limits, used by hot reload. Exposure and
// breaker state survive the swap.
func (r *RiskLimits) UpdateConfig(config RiskLimitsConfig) {
	config.ApplyDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	r.log.Risk("Order-level limits reloaded: %d/min, %d/hr, %d/day, max exposure %.2f",
		config.MaxOrdersPerMinute, config.MaxOrdersPerHour, config.MaxOrdersPerDay, config.MaxTotalExposure)
}

// CheckOrder runs every order-level check for a sized trade. Checks
// run in a fixed order and the first failure wins.
func (r *RiskLimits) CheckOrder(intent TradeIntent, sizing SizingResult) *Rejection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rolloverIfNewDay()

	if r.breakerTripped {
		return Reject(RejectCircuitBreaker, "daily loss circuit breaker active: %s", r.breakerReason)
	}

	if rej := r.checkRateLimits(); rej != nil {
		return rej
	}
	if rej := r.checkSymbolExposure(intent.Symbol, intent.Side.SignedQuantity(sizing.FinalQuantity), sizing); rej != nil {
		return rej
	}
	if rej := r.checkPortfolioCaps(sizing.EstimatedCost); rej != nil {
		return rej
	}

	return nil
}

// RecordOrder counts a submitted order against the rate limits.
// Called once per accepted intent, not per slice.
func (r *RiskLimits) RecordOrder() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rolloverIfNewDay()
	r.orderTimes = append(r.orderTimes, r.now())
	r.ordersDay++
}

// UpdateExposure adjusts the tracked exposure for a symbol after a
// fill or an unwind. signedQuantity is positive for net buys.
func (r *RiskLimits) UpdateExposure(symbol string, signedQuantity int, lotSize int, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, exists := r.exposures[symbol]
	if !exists {
		exp = &symbolExposure{}
		r.exposures[symbol] = exp
	}

	oldNotional := exp.Notional
	exp.NetQuantity += signedQuantity
	if lotSize > 0 {
		exp.Lots = absInt(exp.NetQuantity) / lotSize
	}
	exp.Notional = absFloat(float64(exp.NetQuantity)) * price

	r.totalExposure += exp.Notional - oldNotional
	if r.totalExposure < 0 {
		r.totalExposure = 0
	}

	if exp.NetQuantity == 0 {
		r.totalExposure -= exp.Notional
		if r.totalExposure < 0 {
			r.totalExposure = 0
		}
		delete(r.exposures, symbol)
	}
}

// UpdatePnL feeds realized daily P&L into the gate. A breach trips the
// breaker and it stays tripped until the next trading day.
func (r *RiskLimits) UpdatePnL(dailyPnL float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rolloverIfNewDay()
	r.dailyPnL = dailyPnL

	if r.config.MaxDailyLoss > 0 && dailyPnL <= -r.config.MaxDailyLoss && !r.breakerTripped {
		r.breakerTripped = true
		r.breakerReason = fmt.Sprintf("daily loss %.2f breached limit %.2f", dailyPnL, r.config.MaxDailyLoss)
		r.log.Critical("🚨 Daily loss circuit breaker TRIPPED: %s", r.breakerReason)
	}
}

// Summary returns a snapshot of the gate state
func (r *RiskLimits) Summary() ExposureSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	minuteAgo := r.now().Add(-time.Minute)
	hourAgo := r.now().Add(-time.Hour)
	lastMinute, lastHour := 0, 0
	for _, t := range r.orderTimes {
		if t.After(hourAgo) {
			lastHour++
			if t.After(minuteAgo) {
				lastMinute++
			}
		}
	}

	return ExposureSummary{
		OrdersLastMinute: lastMinute,
		OrdersLastHour:   lastHour,
		OrdersToday:      r.ordersDay,
		OpenPositions:    len(r.exposures),
		TotalExposure:    r.totalExposure,
		DailyPnL:         r.dailyPnL,
		BreakerTripped:   r.breakerTripped,
		BreakerReason:    r.breakerReason,
	}
}

// checkRateLimits enforces the sliding windows and the daily cap.
// Caller holds the write lock.
func (r *RiskLimits) checkRateLimits() *Rejection {
	now := r.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	// Drop timestamps older than the widest window
	kept := r.orderTimes[:0]
	for _, t := range r.orderTimes {
		if t.After(hourAgo) {
			kept = append(kept, t)
		}
	}
	r.orderTimes = kept

	lastMinute := 0
	for _, t := range r.orderTimes {
		if t.After(minuteAgo) {
			lastMinute++
		}
	}

	if lastMinute >= r.config.MaxOrdersPerMinute {
		return Reject(RejectRateLimit, "order rate %d/min at limit %d", lastMinute, r.config.MaxOrdersPerMinute)
	}
	if len(r.orderTimes) >= r.config.MaxOrdersPerHour {
		return Reject(RejectRateLimit, "order rate %d/hr at limit %d", len(r.orderTimes), r.config.MaxOrdersPerHour)
	}
	if r.ordersDay >= r.config.MaxOrdersPerDay {
		return Reject(RejectRateLimit, "daily order count %d at limit %d", r.ordersDay, r.config.MaxOrdersPerDay)
	}
	return nil
}

// checkSymbolExposure enforces the per-symbol caps, projecting the
// post-trade exposure. Caller holds the write lock.
func (r *RiskLimits) checkSymbolExposure(symbol string, signedQuantity int, sizing SizingResult) *Rejection {
	limits, exists := r.config.SymbolLimits[symbol]
	if !exists {
		limits = r.config.DefaultLimit
	}

	current := &symbolExposure{}
	if exp, ok := r.exposures[symbol]; ok {
		current = exp
	}

	projectedQty := current.NetQuantity + signedQuantity
	projectedNotional := current.Notional + sizing.EstimatedCost

	if limits.MaxNetQuantity > 0 && absInt(projectedQty) > limits.MaxNetQuantity {
		return Reject(RejectSymbolExposure,
			"%s net quantity %d would exceed limit %d", symbol, absInt(projectedQty), limits.MaxNetQuantity)
	}
	if limits.MaxLots > 0 && sizing.LotSize > 0 {
		projectedLots := absInt(projectedQty) / sizing.LotSize
		if projectedLots > limits.MaxLots {
			return Reject(RejectSymbolExposure,
				"%s exposure %d lots would exceed limit %d", symbol, projectedLots, limits.MaxLots)
		}
	}
	if limits.MaxNotional > 0 && projectedNotional > limits.MaxNotional {
		return Reject(RejectSymbolExposure,
			"%s notional %.2f would exceed limit %.2f", symbol, projectedNotional, limits.MaxNotional)
	}
	return nil
}

// checkPortfolioCaps enforces the global open-position and exposure
// caps. Caller holds the write lock.
func (r *RiskLimits) checkPortfolioCaps(estimatedCost float64) *Rejection {
	if len(r.exposures) >= r.config.MaxOpenPositions {
		return Reject(RejectPortfolioExposureLimit,
			"open positions %d at limit %d", len(r.exposures), r.config.MaxOpenPositions)
	}
	if r.config.MaxTotalExposure > 0 && r.totalExposure+estimatedCost > r.config.MaxTotalExposure {
		return Reject(RejectPortfolioExposureLimit,
			"total exposure %.2f would exceed limit %.2f", r.totalExposure+estimatedCost, r.config.MaxTotalExposure)
	}
	return nil
}

// rolloverIfNewDay resets daily counters and re-arms the breaker when
// the trading day changes. Caller holds the write lock.
func (r *RiskLimits) rolloverIfNewDay() {
	day := r.now().Format("2006-01-02")
	if r.currentDay == "" {
		r.currentDay = day
		return
	}
	if day == r.currentDay {
		return
	}

	r.currentDay = day
	r.ordersDay = 0
	r.dailyPnL = 0
	if r.breakerTripped {
		r.log.Risk("Daily loss breaker re-armed for new trading day %s", day)
	}
	r.breakerTripped = false
	r.breakerReason = ""
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
