package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/events"
	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/risk"
)

func testWorkerSetup(t *testing.T, margin, equity float64) (*ExecutionWorker, *broker.PaperGateway, *events.Bus) {
	t.Helper()

	log := logger.NewDiscardLogger()
	bus := events.NewBus()
	gateway := broker.NewPaperGateway(margin, equity)

	limitsCfg := risk.RiskLimitsConfig{
		MaxOrdersPerMinute: 100,
		MaxOrdersPerHour:   1000,
		MaxOrdersPerDay:    5000,
		MaxOpenPositions:   20,
		MaxTotalExposure:   100000000,
		MaxDailyLoss:       10000000,
		DefaultLimit:       risk.ExposureLimits{MaxLots: 1000},
	}
	riskMgr := risk.NewRiskManager(
		risk.NewPositionSizer(risk.SizePercentOfEquity),
		risk.NewRiskLimits(limitsCfg, log),
		risk.NewStrategyRiskManager(log),
		risk.NewPortfolioRiskManager(risk.PortfolioRiskConfig{
			MaxDailyLossPct:  0.50,
			MaxDrawdownPct:   0.90,
			MaxGrossLeverage: 50,
			MaxConcentration: 1.0,
		}, log),
		bus,
		log,
	)
	require.NoError(t, riskMgr.Strategy().RegisterStrategy(risk.StrategyRiskConfig{
		StrategyName:           "trend",
		RiskPerTrade:           0.05,
		MaxPositionSize:        0.50,
		MaxConcurrentPositions: 10,
		MaxPositionsPerSymbol:  10,
		MaxTradesPerDay:        100,
		MaxDrawdown:            0.90,
	}))

	w := New(Config{
		MaxLotsPerOrder: 9,
		SliceDelay:      time.Millisecond,
		OrderTimeout:    2 * time.Second,
		QueueSize:       8,
	}, gateway, riskMgr, bus, nil, log)
	w.SetLotSize("NIFTY", 50)

	return w, gateway, bus
}

func workerIntent(quantity int) risk.TradeIntent {
	return risk.TradeIntent{
		Symbol:            "NIFTY",
		Side:              broker.SideBuy,
		SuggestedQuantity: quantity,
		ReferencePrice:    100,
		StrategyName:      "trend",
	}
}

func drainAndExecute(t *testing.T, w *ExecutionWorker) *ExecutionJob {
	t.Helper()
	select {
	case job := <-w.queue:
		w.executeJob(context.Background(), job)
		return job
	default:
		t.Fatal("no job queued")
		return nil
	}
}

// TestSubmitIntentQueuesApprovedJob verifies the happy path from
// intent to queued job
func TestSubmitIntentQueuesApprovedJob(t *testing.T) {
	w, _, _ := testWorkerSetup(t, 10000000, 10000000)

	jobID, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	assert.Nil(t, rej)
	assert.NotEmpty(t, jobID)

	job, ok := w.JobStatus(jobID)
	require.True(t, ok)
	assert.Equal(t, JobPending, job.Status)
}

// TestExecuteJobFillsAllSlices verifies a multi-slice job completes
// with the full quantity and correct slice count
func TestExecuteJobFillsAllSlices(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 10000000, 10000000)

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	job := drainAndExecute(t, w)

	assert.Equal(t, JobCompleted, job.Status)
	assert.Len(t, job.Slices, 9)
	assert.Equal(t, 4050, job.FilledQuantity())
	assert.Equal(t, 4050, gateway.NetQuantity("NIFTY"))
	assert.Equal(t, 9, gateway.PlacedOrders())
}

// TestSliceFailureUnwindsToNetZero verifies all-or-nothing: when a
// mid-sequence slice fails, the filled slices are reversed and the net
// position change is zero
func TestSliceFailureUnwindsToNetZero(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 10000000, 10000000)
	gateway.FailOnOrder = 5

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	job := drainAndExecute(t, w)

	assert.Equal(t, JobNeutralized, job.Status)
	assert.Equal(t, 0, gateway.NetQuantity("NIFTY"))
	// 4 fills + 1 rejected attempt + 1 reversing order
	assert.Equal(t, 6, gateway.PlacedOrders())
}

// TestUnwindFailureIsFatal verifies an unwind that cannot complete
// marks the job FAILED and dead-letters it
func TestUnwindFailureIsFatal(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 10000000, 10000000)
	// Slice 3 fails, and so does every subsequent order including the
	// reversing one
	gateway.FailOnOrder = 3
	gateway.FailAfter = true

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	job := drainAndExecute(t, w)

	assert.Equal(t, JobFailed, job.Status)
	assert.NotZero(t, gateway.NetQuantity("NIFTY"))

	letters := w.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, job.JobID, letters[0].JobID)
}

// TestRejectedIntentNeverReachesBroker verifies a refused trade
// leaves no broker footprint
func TestRejectedIntentNeverReachesBroker(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 1000, 1000)

	// One lot at 18,000 costs 900,000 against 1,000 margin
	intent := workerIntent(50)
	intent.ReferencePrice = 18000

	jobID, rej, err := w.SubmitIntent(context.Background(), intent, risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.RejectInsufficientMargin, rej.Code)
	assert.Equal(t, 0, gateway.PlacedOrders())

	job, ok := w.JobStatus(jobID)
	require.True(t, ok)
	assert.Equal(t, JobRejected, job.Status)
}

// TestSynchronizeWithBrokerOverwritesCache verifies reconciliation
// adopts the broker's positions wholesale
func TestSynchronizeWithBrokerOverwritesCache(t *testing.T) {
	w, _, _ := testWorkerSetup(t, 10000000, 10000000)

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(450), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)
	drainAndExecute(t, w)

	require.NoError(t, w.SynchronizeWithBroker(context.Background()))

	state := w.riskMgr.Portfolio().State()
	pos, ok := state.Positions["NIFTY"]
	require.True(t, ok)
	assert.Equal(t, 450, pos.Quantity)
}

// TestExecutionEventsArePublished verifies the lifecycle events land
// on the bus
func TestExecutionEventsArePublished(t *testing.T) {
	w, _, bus := testWorkerSetup(t, 10000000, 10000000)

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(900), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)
	drainAndExecute(t, w)

	placed := 0
	for {
		if _, ok := bus.TryConsume(events.EventOrderPlaced, events.PriorityNormal); !ok {
			break
		}
		placed++
	}
	assert.Equal(t, 2, placed)

	executed, ok := bus.TryConsume(events.EventOrderExecuted, events.PriorityNormal)
	require.True(t, ok)
	assert.Equal(t, 900, executed.Data["filled_quantity"])
}

// TestJobStatusConsistentDuringExecution verifies polling a job while
// the worker is mutating it always returns an internally consistent
// snapshot
func TestJobStatusConsistentDuringExecution(t *testing.T) {
	w, _, _ := testWorkerSetup(t, 10000000, 10000000)

	jobID, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	stop := make(chan struct{})
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			snapshot, ok := w.JobStatus(jobID)
			if !ok {
				continue
			}
			assert.LessOrEqual(t, snapshot.FilledQuantity(), 4050)
			if snapshot.Status == JobPending {
				assert.Empty(t, snapshot.Slices)
			}
		}
	}()

	job := drainAndExecute(t, w)
	close(stop)
	<-pollerDone

	final, ok := w.JobStatus(job.JobID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, final.Status)
	assert.Equal(t, 4050, final.FilledQuantity())
}

// TestOrderPlacedOnlyForFilledSlices verifies a slice that dies before
// filling leaves no placement event on the bus
func TestOrderPlacedOnlyForFilledSlices(t *testing.T) {
	w, gateway, bus := testWorkerSetup(t, 10000000, 10000000)
	gateway.FailOnOrder = 2

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(900), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	job := drainAndExecute(t, w)
	assert.Equal(t, JobNeutralized, job.Status)

	placed := 0
	for {
		if _, ok := bus.TryConsume(events.EventOrderPlaced, events.PriorityNormal); !ok {
			break
		}
		placed++
	}
	assert.Equal(t, 1, placed)
}

// TestNeutralizedJobFreesStrategySlot verifies an unwound job books an
// outcome against its strategy so the position slot frees up
func TestNeutralizedJobFreesStrategySlot(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 10000000, 10000000)
	gateway.FailOnOrder = 5

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(4050), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)

	job := drainAndExecute(t, w)
	require.Equal(t, JobNeutralized, job.Status)

	perf, ok := w.riskMgr.Strategy().Performance("trend")
	require.True(t, ok)
	assert.Equal(t, 0, perf.OpenPositions)
	assert.Equal(t, 1, perf.SampleSize)
}

// TestReconciliationBooksClosedTrades verifies a position closed away
// from the worker is credited back to its strategy on the next sync
func TestReconciliationBooksClosedTrades(t *testing.T) {
	w, gateway, _ := testWorkerSetup(t, 10000000, 10000000)

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(450), risk.StrategyRiskConfig{
		StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50,
	})
	require.NoError(t, err)
	require.Nil(t, rej)
	drainAndExecute(t, w)

	require.NoError(t, w.SynchronizeWithBroker(context.Background()))
	perf, ok := w.riskMgr.Strategy().Performance("trend")
	require.True(t, ok)
	assert.Equal(t, 1, perf.OpenPositions)

	// Flatten the position directly with the broker; the worker only
	// learns about it through reconciliation
	_, err = gateway.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:      "NIFTY",
		Side:        broker.SideSell,
		Quantity:    450,
		Price:       101,
		ProductType: broker.ProductIntraday,
	})
	require.NoError(t, err)

	require.NoError(t, w.SynchronizeWithBroker(context.Background()))
	perf, ok = w.riskMgr.Strategy().Performance("trend")
	require.True(t, ok)
	assert.Equal(t, 0, perf.OpenPositions)
	assert.Equal(t, 1, perf.SampleSize)
}

// TestQueueFullBacksOutApproval verifies a refusal on a full queue
// releases the strategy slot the approval consumed
func TestQueueFullBacksOutApproval(t *testing.T) {
	w, _, _ := testWorkerSetup(t, 10000000, 10000000)

	cfg := risk.StrategyRiskConfig{StrategyName: "trend", RiskPerTrade: 0.05, MaxPositionSize: 0.50}
	for i := 0; i < 8; i++ {
		_, rej, err := w.SubmitIntent(context.Background(), workerIntent(450), cfg)
		require.NoError(t, err)
		require.Nil(t, rej)
	}

	_, rej, err := w.SubmitIntent(context.Background(), workerIntent(450), cfg)
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, risk.RejectRateLimit, rej.Code)

	perf, ok := w.riskMgr.Strategy().Performance("trend")
	require.True(t, ok)
	assert.Equal(t, 8, perf.OpenPositions)
	assert.Equal(t, 8, perf.TradesToday)
}
