package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks liveness signals from the worker and serves
// them as a health endpoint
type HealthChecker struct {
	mu             sync.RWMutex
	lastOrder      time.Time
	lastReconcile  time.Time
	brokerHealthy  bool
	tradingAllowed bool
	haltReason     string
	errors         []string
}

// HealthStatus is the JSON body returned by the health endpoint
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	LastOrder      time.Time `json:"last_order,omitempty"`
	LastReconcile  time.Time `json:"last_reconcile,omitempty"`
	BrokerHealthy  bool      `json:"broker_healthy"`
	TradingAllowed bool      `json:"trading_allowed"`
	HaltReason     string    `json:"halt_reason,omitempty"`
	Uptime         string    `json:"uptime"`
	Errors         []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a health checker in the healthy idle state
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		brokerHealthy:  true,
		tradingAllowed: true,
		errors:         make([]string, 0),
	}
}

// RecordOrder marks broker order activity
func (h *HealthChecker) RecordOrder() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOrder = time.Now()
}

// RecordReconcile marks a completed broker reconciliation
func (h *HealthChecker) RecordReconcile(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReconcile = time.Now()
	h.brokerHealthy = success
}

// SetTradingState mirrors the portfolio gate's halt state
func (h *HealthChecker) SetTradingState(allowed bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tradingAllowed = allowed
	h.haltReason = reason
}

// RecordError appends a recent error, keeping the last ten
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 10 {
		h.errors = h.errors[len(h.errors)-10:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.brokerHealthy {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		LastOrder:      h.lastOrder,
		LastReconcile:  h.lastReconcile,
		BrokerHealthy:  h.brokerHealthy,
		TradingAllowed: h.tradingAllowed,
		HaltReason:     h.haltReason,
		Uptime:         time.Since(startTime).String(),
		Errors:         h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
