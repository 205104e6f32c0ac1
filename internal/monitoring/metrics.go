package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_orders_total",
			Help: "Total number of orders submitted to the broker",
		},
		[]string{"symbol", "side"},
	)

	slicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_slices_total",
			Help: "Total number of order slices by outcome",
		},
		[]string{"outcome"},
	)

	unwindsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_unwinds_total",
			Help: "Total number of all-or-nothing unwinds triggered",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_job_duration_seconds",
			Help:    "Distribution of execution job durations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Risk metrics
	riskChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_risk_checks_total",
			Help: "Total number of risk gate evaluations",
		},
		[]string{"result"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rejections_total",
			Help: "Total number of trade rejections by reject code",
		},
		[]string{"code"},
	)

	lockedMargin = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_locked_margin",
			Help: "Margin currently reserved by in-flight jobs",
		},
	)

	// Event bus metrics
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_queue_depth",
			Help: "Current depth of each event bus partition",
		},
		[]string{"event_type", "priority"},
	)

	droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_dropped_events_total",
			Help: "Total number of events dropped by full partitions",
		},
		[]string{"event_type", "priority"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(slicesTotal)
	prometheus.MustRegister(unwindsTotal)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(riskChecksTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(lockedMargin)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(droppedEvents)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordOrder records a submitted broker order
func RecordOrder(symbol, side string) {
	ordersTotal.WithLabelValues(symbol, side).Inc()
}

// RecordSlice records one slice outcome (filled, failed, cancelled)
func RecordSlice(outcome string) {
	slicesTotal.WithLabelValues(outcome).Inc()
}

// RecordUnwind records an all-or-nothing unwind
func RecordUnwind() {
	unwindsTotal.Inc()
}

// ObserveJobDuration records how long an execution job took
func ObserveJobDuration(seconds float64) {
	jobDuration.Observe(seconds)
}

// RecordRiskCheck records a gate evaluation result
func RecordRiskCheck(passed bool) {
	result := "passed"
	if !passed {
		result = "failed"
	}
	riskChecksTotal.WithLabelValues(result).Inc()
}

// RecordRejection records a trade rejection by code
func RecordRejection(code string) {
	rejectionsTotal.WithLabelValues(code).Inc()
}

// SetLockedMargin updates the reserved margin gauge
func SetLockedMargin(amount float64) {
	lockedMargin.Set(amount)
}

// SetQueueDepth updates a bus partition depth gauge
func SetQueueDepth(eventType, priority string, depth int) {
	queueDepth.WithLabelValues(eventType, priority).Set(float64(depth))
}

// RecordDroppedEvent records an event lost to a full partition
func RecordDroppedEvent(eventType, priority string) {
	droppedEvents.WithLabelValues(eventType, priority).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
