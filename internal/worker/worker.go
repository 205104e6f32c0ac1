package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rameshiyer27/bastion/internal/broker"
	coreerrors "github.com/rameshiyer27/bastion/internal/errors"
	"github.com/rameshiyer27/bastion/internal/events"
	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/monitoring"
	"github.com/rameshiyer27/bastion/internal/notifications"
	"github.com/rameshiyer27/bastion/internal/risk"
)

// Config holds the execution worker parameters
type Config struct {
	// MaxLotsPerOrder is the regulatory cap on lots per child order
	MaxLotsPerOrder int
	// SliceDelay is the pause between consecutive slice submissions
	SliceDelay time.Duration
	// OrderTimeout bounds each individual broker call; a timeout is
	// treated as a slice failure
	OrderTimeout time.Duration
	// ReconcileInterval is how often positions are re-synced from the
	// broker
	ReconcileInterval time.Duration
	// QueueSize bounds the pending job queue
	QueueSize int
	// ProductType is stamped on every order
	ProductType broker.ProductType
}

// ApplyDefaults fills unset fields with production values
func (c *Config) ApplyDefaults() {
	if c.MaxLotsPerOrder <= 0 {
		c.MaxLotsPerOrder = 9
	}
	if c.SliceDelay <= 0 {
		c.SliceDelay = 1100 * time.Millisecond
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 10 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ProductType == "" {
		c.ProductType = broker.ProductIntraday
	}
}

// ExecutionWorker drives approved trades to completion. Jobs execute
// strictly one at a time: each is sliced into regulatory-compliant
// child orders, submitted sequentially with a delay between slices,
// and unwound back to net zero if any slice fails. The broker is
// re-synced on start and on a timer, and its view always wins.
type ExecutionWorker struct {
	config   Config
	gateway  broker.Gateway
	riskMgr  *risk.RiskManager
	bus      *events.Bus
	notifier notifications.Notifier
	log      *logger.Logger

	queue chan *ExecutionJob

	mu          sync.RWMutex
	jobs        map[string]*ExecutionJob
	deadLetters []ExecutionJob
	lotSizes    map[string]int
	openTrades  map[string]openTrade
}

// openTrade remembers which strategy opened a position so the close
// can be booked back against it when reconciliation sees the position
// disappear
type openTrade struct {
	strategy string
	quantity int // signed
}

// New creates an execution worker
func New(config Config, gateway broker.Gateway, riskMgr *risk.RiskManager,
	bus *events.Bus, notifier notifications.Notifier, log *logger.Logger) *ExecutionWorker {
	config.ApplyDefaults()
	if notifier == nil {
		notifier = notifications.NoopNotifier{}
	}
	return &ExecutionWorker{
		config:     config,
		gateway:    gateway,
		riskMgr:    riskMgr,
		bus:        bus,
		notifier:   notifier,
		log:        log,
		queue:      make(chan *ExecutionJob, config.QueueSize),
		jobs:       make(map[string]*ExecutionJob),
		lotSizes:   make(map[string]int),
		openTrades: make(map[string]openTrade),
	}
}

// SetLotSize registers the contract lot size for a symbol
func (w *ExecutionWorker) SetLotSize(symbol string, lotSize int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lotSizes[symbol] = lotSize
}

// lotSize returns the registered lot size, defaulting to 1 for cash
// equity symbols
func (w *ExecutionWorker) lotSize(symbol string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if size, ok := w.lotSizes[symbol]; ok {
		return size
	}
	return 1
}

// SubmitIntent sizes an intent, runs it through the risk gates and,
// if approved, queues it for execution. The returned rejection is nil
// only when a job was queued.
func (w *ExecutionWorker) SubmitIntent(ctx context.Context, intent risk.TradeIntent,
	config risk.StrategyRiskConfig) (string, *risk.Rejection, error) {

	if intent.JobID == "" {
		intent.JobID = uuid.NewString()
	}

	funds, err := w.gateway.GetFunds(ctx)
	if err != nil {
		return "", nil, coreerrors.Wrap(err, coreerrors.ErrorCategoryBroker, "worker", "get_funds")
	}
	if err := broker.ValidateFunds(funds); err != nil {
		return "", nil, coreerrors.Wrap(err, coreerrors.ErrorCategoryValidation, "worker", "get_funds")
	}

	lotSize := w.lotSize(intent.Symbol)
	sizing := w.riskMgr.CalculatePositionSize(intent, lotSize, funds, config)
	if !sizing.Success {
		w.recordRejectedJob(intent, sizing, sizing.Rejection)
		return intent.JobID, sizing.Rejection, nil
	}

	if rej := w.riskMgr.ApproveTrade(intent, sizing, funds); rej != nil {
		w.recordRejectedJob(intent, sizing, rej)
		return intent.JobID, rej, nil
	}

	job := &ExecutionJob{
		JobID:     intent.JobID,
		Intent:    intent,
		Sizing:    sizing,
		Status:    JobPending,
		CreatedAt: time.Now(),
	}

	w.mu.Lock()
	w.jobs[job.JobID] = job
	w.mu.Unlock()

	select {
	case w.queue <- job:
	default:
		// Queue full: back out the approval and refuse rather than
		// block the caller
		w.riskMgr.ReleaseMargin(job.JobID)
		w.riskMgr.Strategy().CancelEntry(intent.StrategyName, intent.Symbol)
		w.failJob(job, "execution queue full")
		rej := risk.Reject(risk.RejectRateLimit, "execution queue full (%d pending)", w.config.QueueSize)
		return job.JobID, rej, nil
	}

	w.bus.Publish(events.NewEvent(events.EventSignalReceived, events.PriorityNormal, "worker").
		WithSymbol(intent.Symbol).WithJob(job.JobID).
		WithData("quantity", sizing.FinalQuantity))

	return job.JobID, nil, nil
}

// JobStatus returns a copy of the job's current state
func (w *ExecutionWorker) JobStatus(jobID string) (ExecutionJob, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[jobID]
	if !ok {
		return ExecutionJob{}, false
	}
	return job.clone(), true
}

// DeadLetters returns the jobs that ended in a non-recoverable state
func (w *ExecutionWorker) DeadLetters() []ExecutionJob {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ExecutionJob, len(w.deadLetters))
	copy(out, w.deadLetters)
	return out
}

// Run processes jobs until the context is cancelled. Reconciliation
// runs first so the risk gates see real positions before any trade.
func (w *ExecutionWorker) Run(ctx context.Context) error {
	if err := w.SynchronizeWithBroker(ctx); err != nil {
		w.log.Error("Initial broker sync failed: %v", err)
	}

	reconcile := time.NewTicker(w.config.ReconcileInterval)
	defer reconcile.Stop()

	w.log.Info("⚙️ Execution worker started (max %d lots/order, %.1fs between slices)",
		w.config.MaxLotsPerOrder, w.config.SliceDelay.Seconds())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Execution worker stopping: %v", ctx.Err())
			return ctx.Err()
		case <-reconcile.C:
			if err := w.SynchronizeWithBroker(ctx); err != nil {
				w.log.Error("Broker sync failed: %v", err)
				monitoring.RecordError("reconciliation")
			}
		case job := <-w.queue:
			w.executeJob(ctx, job)
		}
	}
}

// executeJob runs one job end to end
func (w *ExecutionWorker) executeJob(ctx context.Context, job *ExecutionJob) {
	defer w.riskMgr.ReleaseMargin(job.JobID)
	// A panicking job must never take the worker loop down with it
	defer func() {
		if r := recover(); r != nil {
			w.log.Critical("Job %s panicked: %v", shortID(job.JobID), r)
			monitoring.RecordError("job_panic")
			w.failJob(job, fmt.Sprintf("panic during execution: %v", r))
		}
	}()

	start := time.Now()
	w.mutateJob(job, func(j *ExecutionJob) {
		j.Status = JobExecuting
		j.StartedAt = start
	})

	lotSize := job.Sizing.LotSize
	quantities := SliceOrder(job.Sizing.FinalQuantity, lotSize, w.config.MaxLotsPerOrder)
	w.log.Trade("Executing job %s: %s %s x%d in %d slice(s)",
		shortID(job.JobID), job.Intent.Side, job.Intent.Symbol, job.Sizing.FinalQuantity, len(quantities))

	for i, qty := range quantities {
		if i > 0 {
			select {
			case <-ctx.Done():
				w.unwind(job, fmt.Sprintf("shutdown during slice %d/%d", i+1, len(quantities)))
				return
			case <-time.After(w.config.SliceDelay):
			}
		}

		record := w.submitSlice(ctx, job, i, qty)
		w.mutateJob(job, func(j *ExecutionJob) {
			j.Slices = append(j.Slices, record)
		})

		if record.Error != "" {
			monitoring.RecordSlice("failed")
			w.unwind(job, fmt.Sprintf("slice %d/%d failed: %s", i+1, len(quantities), record.Error))
			return
		}
		monitoring.RecordSlice("filled")
	}

	w.mu.Lock()
	job.Status = JobCompleted
	job.EndedAt = time.Now()
	filled := job.FilledQuantity()
	avgPrice := job.AverageFillPrice()
	sliceCount := len(job.Slices)
	signedQty := job.Intent.Side.SignedQuantity(filled)
	trade := w.openTrades[job.Intent.Symbol]
	trade.strategy = job.Intent.StrategyName
	trade.quantity += signedQty
	if trade.quantity == 0 {
		// Flattened by our own jobs, nothing left for reconciliation
		// to close out
		delete(w.openTrades, job.Intent.Symbol)
	} else {
		w.openTrades[job.Intent.Symbol] = trade
	}
	w.mu.Unlock()

	monitoring.ObserveJobDuration(time.Since(start).Seconds())
	w.riskMgr.Limits().UpdateExposure(job.Intent.Symbol, signedQty, lotSize, job.Intent.ReferencePrice)

	w.log.LogJobExecution(shortID(job.JobID), job.Intent.Symbol, string(job.Intent.Side), filled, sliceCount, avgPrice)
	w.bus.Publish(events.NewEvent(events.EventOrderExecuted, events.PriorityNormal, "worker").
		WithSymbol(job.Intent.Symbol).WithJob(job.JobID).
		WithData("filled_quantity", filled).
		WithData("slices", sliceCount))
}

// submitSlice places one child order and waits for its terminal state
func (w *ExecutionWorker) submitSlice(ctx context.Context, job *ExecutionJob, index, quantity int) SliceRecord {
	record := SliceRecord{Index: index, Quantity: quantity}

	req := broker.OrderRequest{
		Symbol:      job.Intent.Symbol,
		Side:        job.Intent.Side,
		Quantity:    quantity,
		Price:       job.Intent.ReferencePrice,
		ProductType: w.config.ProductType,
	}

	callCtx, cancel := context.WithTimeout(ctx, w.config.OrderTimeout)
	defer cancel()

	var orderID string
	err := broker.Retry(callCtx, func() error {
		var placeErr error
		orderID, placeErr = w.gateway.PlaceOrder(callCtx, req)
		return placeErr
	})
	if err != nil {
		record.Error = fmt.Sprintf("place order: %v", err)
		return record
	}
	record.OrderID = orderID
	monitoring.RecordOrder(job.Intent.Symbol, string(job.Intent.Side))

	state, err := w.awaitTerminal(callCtx, orderID)
	if err != nil {
		record.Error = fmt.Sprintf("order status: %v", err)
		return record
	}

	record.Status = state.Status
	record.FilledQuantity = state.FilledQuantity
	record.AveragePrice = state.AveragePrice

	if state.Status != broker.StatusFilled {
		record.Error = fmt.Sprintf("order %s ended %s", orderID, state.Status)
		return record
	}

	// Announced only once the fill is confirmed; a slice that dies
	// before filling leaves no placement event
	w.bus.Publish(events.NewEvent(events.EventOrderPlaced, events.PriorityNormal, "worker").
		WithSymbol(job.Intent.Symbol).WithJob(job.JobID).
		WithData("order_id", orderID).
		WithData("slice", index).
		WithData("quantity", state.FilledQuantity))

	return record
}

// awaitTerminal polls the broker until the order reaches a terminal
// state or the context expires
func (w *ExecutionWorker) awaitTerminal(ctx context.Context, orderID string) (broker.OrderState, error) {
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	for {
		state, err := w.gateway.GetOrderStatus(ctx, orderID)
		if err == nil {
			if verr := broker.ValidateOrderState(state); verr != nil {
				return broker.OrderState{}, verr
			}
			if state.Status.IsTerminal() {
				return state, nil
			}
		}

		select {
		case <-ctx.Done():
			return broker.OrderState{}, ctx.Err()
		case <-poll.C:
		}
	}
}

// unwind restores a net-zero position after a slice failure: open
// child orders are cancelled, filled quantity is reversed with
// compensating orders. If the unwind itself fails the job is marked
// FAILED and a fatal alert goes out - that is the one state the core
// cannot recover from on its own.
func (w *ExecutionWorker) unwind(job *ExecutionJob, reason string) {
	monitoring.RecordUnwind()
	w.log.Warning("⚠️ Unwinding job %s: %s", shortID(job.JobID), reason)

	// Fresh context: the job context may already be dead and the
	// unwind must still run
	ctx, cancel := context.WithTimeout(context.Background(), 2*w.config.OrderTimeout)
	defer cancel()

	w.mu.RLock()
	slices := make([]SliceRecord, len(job.Slices))
	copy(slices, job.Slices)
	w.mu.RUnlock()

	for i, slice := range slices {
		if slice.OrderID == "" || slice.Status.IsTerminal() {
			continue
		}
		if cancelled, err := w.gateway.CancelOrder(ctx, slice.OrderID); err != nil || !cancelled {
			// A cancel that fails because the order filled is handled
			// below; re-fetch to learn the truth
			if state, serr := w.gateway.GetOrderStatus(ctx, slice.OrderID); serr == nil {
				w.mutateJob(job, func(j *ExecutionJob) {
					j.Slices[i].Status = state.Status
					j.Slices[i].FilledQuantity = state.FilledQuantity
				})
			}
		} else {
			w.mutateJob(job, func(j *ExecutionJob) {
				j.Slices[i].Status = broker.StatusCancelled
			})
			monitoring.RecordSlice("cancelled")
		}
	}

	w.mu.RLock()
	filled := job.FilledQuantity()
	avgEntry := job.AverageFillPrice()
	w.mu.RUnlock()

	if filled > 0 {
		req := broker.OrderRequest{
			Symbol:      job.Intent.Symbol,
			Side:        job.Intent.Side.Opposite(),
			Quantity:    filled,
			Price:       job.Intent.ReferencePrice,
			ProductType: w.config.ProductType,
		}
		err := broker.Retry(ctx, func() error {
			_, placeErr := w.gateway.PlaceOrder(ctx, req)
			return placeErr
		})
		if err != nil {
			w.failJob(job, fmt.Sprintf("unwind failed, %d units of %s stranded: %v", filled, job.Intent.Symbol, err))
			w.log.Critical("🆘 UNWIND FAILED for job %s: %d units of %s stranded. Manual intervention required.",
				shortID(job.JobID), filled, job.Intent.Symbol)
			if alertErr := w.notifier.SendAlert("fatal",
				fmt.Sprintf("Unwind failed for %s: %d units stranded. Flatten manually.", job.Intent.Symbol, filled)); alertErr != nil {
				w.log.Error("Failed to send fatal alert: %v", alertErr)
			}
			return
		}
		monitoring.RecordOrder(job.Intent.Symbol, string(job.Intent.Side.Opposite()))
	}

	w.mutateJob(job, func(j *ExecutionJob) {
		j.Status = JobNeutralized
		j.FailureReason = reason
		j.EndedAt = time.Now()
	})

	// The round trip is closed, so the strategy's position slot frees
	// up and the scratch counts against its win-rate window
	pnl := (job.Intent.ReferencePrice - avgEntry) * float64(job.Intent.Side.SignedQuantity(filled))
	w.riskMgr.Strategy().UpdateStrategyTrade(job.Intent.StrategyName, job.Intent.Symbol, pnl)

	w.log.LogJobNeutralized(shortID(job.JobID), job.Intent.Symbol, filled, reason)
	w.bus.Publish(events.NewEvent(events.EventOrderNeutralized, events.PriorityHigh, "worker").
		WithSymbol(job.Intent.Symbol).WithJob(job.JobID).
		WithData("reason", reason).
		WithData("reversed_quantity", filled))
}

// SynchronizeWithBroker replaces the cached portfolio view with the
// broker's. The local cache is overwritten wholesale - it is never
// incrementally patched, so it cannot drift.
func (w *ExecutionWorker) SynchronizeWithBroker(ctx context.Context) error {
	positions, err := w.gateway.GetPositions(ctx)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ErrorCategoryReconciliation, "worker", "sync")
	}
	funds, err := w.gateway.GetFunds(ctx)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.ErrorCategoryReconciliation, "worker", "sync")
	}
	if err := broker.ValidateFunds(funds); err != nil {
		return coreerrors.Wrap(err, coreerrors.ErrorCategoryValidation, "worker", "sync")
	}

	// Flag drift before overwriting: the cache loses, but silent
	// divergence means local bookkeeping has a bug worth knowing about
	cached := w.riskMgr.Portfolio().State()
	brokerQty := make(map[string]int, len(positions))
	for _, pos := range positions {
		brokerQty[pos.Symbol] = pos.Quantity
		if prev, ok := cached.Positions[pos.Symbol]; ok && prev.Quantity != pos.Quantity {
			w.log.Warning("Reconciliation mismatch for %s: cached %d, broker %d",
				pos.Symbol, prev.Quantity, pos.Quantity)
			monitoring.RecordError("reconciliation_mismatch")
		}
	}

	// Positions the broker no longer holds were closed since the last
	// sync: book each close back against the strategy that opened it.
	// The position's last marked P&L stands in for the realized figure.
	type closedTrade struct {
		strategy string
		symbol   string
		pnl      float64
	}
	var closed []closedTrade
	w.mu.Lock()
	for symbol, trade := range w.openTrades {
		if brokerQty[symbol] != 0 {
			continue
		}
		pnl := 0.0
		if prev, ok := cached.Positions[symbol]; ok {
			pnl = prev.RealizedPnL + prev.UnrealizedPnL
		}
		closed = append(closed, closedTrade{strategy: trade.strategy, symbol: symbol, pnl: pnl})
		delete(w.openTrades, symbol)
	}
	w.mu.Unlock()
	for _, ct := range closed {
		w.log.Risk("Position %s closed, booking %.2f against strategy %s", ct.symbol, ct.pnl, ct.strategy)
		w.riskMgr.Strategy().UpdateStrategyTrade(ct.strategy, ct.symbol, ct.pnl)
	}

	state := risk.PortfolioState{
		Positions:   make(map[string]broker.Position, len(positions)),
		CashBalance: funds.CashBalance,
		TotalEquity: funds.TotalEquity,
	}
	realized, unrealized := 0.0, 0.0
	for _, pos := range positions {
		state.Positions[pos.Symbol] = pos
		realized += pos.RealizedPnL
		unrealized += pos.UnrealizedPnL
	}
	state.RealizedPnLToday = realized
	state.UnrealizedPnLToday = unrealized

	w.riskMgr.Portfolio().UpdatePortfolioState(state)
	w.riskMgr.Portfolio().UpdatePnL(realized, unrealized)
	w.riskMgr.Limits().UpdatePnL(realized + unrealized)

	w.log.LogReconciliation(len(positions), funds.AvailableMargin, funds.TotalEquity)
	w.bus.Publish(events.NewEvent(events.EventPositionSync, events.PriorityNormal, "worker").
		WithData("positions", len(positions)).
		WithData("total_equity", funds.TotalEquity))

	return nil
}

// recordRejectedJob keeps a terminal record for a refused intent so
// job status lookups still resolve
func (w *ExecutionWorker) recordRejectedJob(intent risk.TradeIntent, sizing risk.SizingResult, rej *risk.Rejection) {
	job := &ExecutionJob{
		JobID:         intent.JobID,
		Intent:        intent,
		Sizing:        sizing,
		Status:        JobRejected,
		FailureReason: rej.String(),
		CreatedAt:     time.Now(),
		EndedAt:       time.Now(),
	}
	w.mu.Lock()
	w.jobs[job.JobID] = job
	w.mu.Unlock()
}

// failJob marks a job FAILED and captures it as a dead letter
func (w *ExecutionWorker) failJob(job *ExecutionJob, reason string) {
	w.mu.Lock()
	job.Status = JobFailed
	job.FailureReason = reason
	job.EndedAt = time.Now()
	w.deadLetters = append(w.deadLetters, job.clone())
	w.mu.Unlock()

	w.bus.Publish(events.NewEvent(events.EventExecutionFailed, events.PriorityCritical, "worker").
		WithSymbol(job.Intent.Symbol).WithJob(job.JobID).
		WithData("reason", reason))
}

// mutateJob applies a change to a live job under the worker lock so
// concurrent JobStatus calls always see a consistent snapshot
func (w *ExecutionWorker) mutateJob(job *ExecutionJob, fn func(*ExecutionJob)) {
	w.mu.Lock()
	fn(job)
	w.mu.Unlock()
}

// shortID trims a UUID for log lines
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
