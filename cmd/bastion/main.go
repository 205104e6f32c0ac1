package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/config"
	"github.com/rameshiyer27/bastion/internal/events"
	"github.com/rameshiyer27/bastion/internal/journal"
	"github.com/rameshiyer27/bastion/internal/logger"
	"github.com/rameshiyer27/bastion/internal/monitoring"
	"github.com/rameshiyer27/bastion/internal/notifications"
	"github.com/rameshiyer27/bastion/internal/risk"
	"github.com/rameshiyer27/bastion/internal/state"
	"github.com/rameshiyer27/bastion/internal/worker"
)

func main() {
	cfg := config.Load()

	logg, err := logger.NewLogger("bastion")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Close()

	logg.Info("Starting execution core in %s mode", cfg.Environment)

	// Risk limits document (order-level gate + strategy configs)
	limits, err := config.LoadLimits(cfg.Risk.LimitsFile)
	if err != nil {
		logg.Warning("Limits file unavailable (%v), using built-in defaults", err)
		limits = &config.LimitsFile{}
		limits.OrderLimits.ApplyDefaults()
	}

	bus := events.NewBus()
	bus.OnDrop = func(eventType events.EventType, priority events.Priority) {
		monitoring.RecordDroppedEvent(string(eventType), string(priority))
	}

	var gateway broker.Gateway
	if cfg.Broker.Paper {
		logg.Info("Using paper gateway (margin %.2f, equity %.2f)", cfg.Broker.PaperMargin, cfg.Broker.PaperEquity)
		gateway = broker.NewPaperGateway(cfg.Broker.PaperMargin, cfg.Broker.PaperEquity)
	} else {
		log.Fatalf("No live broker gateway configured for %q; set BROKER_PAPER=true", cfg.Broker.Name)
	}

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	} else {
		logg.Info("Telegram notifications disabled (no token configured)")
	}

	// The three gates
	sizer := risk.NewPositionSizer(risk.SizePercentOfEquity)
	orderGate := risk.NewRiskLimits(limits.OrderLimits, logg)
	strategyGate := risk.NewStrategyRiskManager(logg)
	portfolioGate := risk.NewPortfolioRiskManager(risk.PortfolioRiskConfig{
		MaxDailyLossPct:  cfg.Risk.MaxDailyLossPct,
		MaxDrawdownPct:   cfg.Risk.MaxDrawdownPct,
		MaxGrossLeverage: cfg.Risk.MaxGrossLeverage,
		MaxConcentration: cfg.Risk.MaxConcentration,
	}, logg)
	riskMgr := risk.NewRiskManager(sizer, orderGate, strategyGate, portfolioGate, bus, logg)

	for _, sc := range limits.Strategies {
		if err := strategyGate.RegisterStrategy(sc); err != nil {
			log.Fatalf("Invalid strategy config %q: %v", sc.StrategyName, err)
		}
	}

	execWorker := worker.New(worker.Config{
		MaxLotsPerOrder:   cfg.Execution.MaxLotsPerOrder,
		SliceDelay:        cfg.Execution.SliceDelay,
		OrderTimeout:      cfg.Execution.OrderTimeout,
		ReconcileInterval: cfg.Execution.ReconcileInterval,
		QueueSize:         cfg.Execution.QueueSize,
		ProductType:       broker.ProductType(cfg.Broker.Product),
	}, gateway, riskMgr, bus, notifier, logg)
	for symbol, lotSize := range limits.LotSizes {
		execWorker.SetLotSize(symbol, lotSize)
	}

	// Hot reload: new limits apply to the next check, in-flight jobs
	// are untouched
	watcher, err := config.WatchLimits(cfg.Risk.LimitsFile, logg, func(reloaded *config.LimitsFile) {
		orderGate.UpdateConfig(reloaded.OrderLimits)
		for _, sc := range reloaded.Strategies {
			if err := strategyGate.RegisterStrategy(sc); err != nil {
				logg.Error("Rejected reloaded strategy config %q: %v", sc.StrategyName, err)
			}
		}
		for symbol, lotSize := range reloaded.LotSizes {
			execWorker.SetLotSize(symbol, lotSize)
		}
	})
	if err != nil {
		logg.Warning("Limits hot reload disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	// Audit journal and state snapshots
	auditJournal, err := journal.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open audit journal: %v", err)
	}
	defer auditJournal.Close()
	logg.Info("Audit journal: %s", auditJournal.Path())

	persistence := state.NewStatePersistence(logg, cfg.DataDir)
	if err := persistence.Initialize(); err != nil {
		log.Fatalf("Failed to initialize state persistence: %v", err)
	}
	if err := persistence.LoadState(); err != nil {
		logg.Warning("State load failed: %v", err)
	}

	healthChecker := monitoring.NewHealthChecker()
	go setupMonitoringServers(cfg, healthChecker, logg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := execWorker.Run(ctx); err != nil && ctx.Err() == nil {
			logg.Critical("Execution worker exited: %v", err)
			cancel()
		}
	}()

	go journalLoop(ctx, bus, execWorker, auditJournal, persistence, logg)
	go observabilityLoop(ctx, bus, riskMgr, persistence, healthChecker, execWorker)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logg.Info("Shutting down...")
	cancel()

	// Final risk picture for the session log
	fmt.Println(riskMgr.RenderSummary())

	if err := auditJournal.Flush(); err != nil {
		logg.Error("Journal flush failed: %v", err)
	}
	if err := persistence.Cleanup(); err != nil {
		logg.Error("Final state save failed: %v", err)
	}
	logg.Info("Execution core stopped")
}

// journalLoop records every terminal job in the audit journal
func journalLoop(ctx context.Context, bus *events.Bus, execWorker *worker.ExecutionWorker,
	auditJournal *journal.Journal, persistence *state.StatePersistence, logg *logger.Logger) {

	record := func(event events.Event) {
		job, ok := execWorker.JobStatus(event.JobID)
		if !ok {
			return
		}
		if err := auditJournal.Record(job); err != nil {
			logg.Error("Journal write failed for job %s: %v", event.JobID, err)
		}
		if job.Status == worker.JobFailed {
			persistence.RecordDeadLetter(job.JobID)
		}
	}

	terminalEvents := []struct {
		eventType events.EventType
		priority  events.Priority
	}{
		{events.EventOrderExecuted, events.PriorityNormal},
		{events.EventOrderNeutralized, events.PriorityHigh},
		{events.EventExecutionFailed, events.PriorityCritical},
	}

	for _, te := range terminalEvents {
		go func(eventType events.EventType, priority events.Priority) {
			for {
				event, err := bus.Consume(ctx, eventType, priority)
				if err != nil {
					return
				}
				record(event)
			}
		}(te.eventType, te.priority)
	}

	<-ctx.Done()
}

// observabilityLoop keeps gauges, health state and state snapshots in
// step with the live system
func observabilityLoop(ctx context.Context, bus *events.Bus, riskMgr *risk.RiskManager,
	persistence *state.StatePersistence, healthChecker *monitoring.HealthChecker,
	execWorker *worker.ExecutionWorker) {

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := bus.Stats()
			for eventType, byPriority := range stats.Depths {
				for priority, depth := range byPriority {
					monitoring.SetQueueDepth(string(eventType), string(priority), depth)
				}
			}
			monitoring.SetLockedMargin(riskMgr.LockedMargin())

			snapshot := riskMgr.Portfolio().Snapshot()
			healthChecker.SetTradingState(snapshot.TradingAllowed, snapshot.HaltReason)

			persistence.UpdatePortfolio(riskMgr.Portfolio().State(), riskMgr.Limits().Summary())
		}
	}
}

func setupMonitoringServers(cfg *config.Config, healthChecker *monitoring.HealthChecker, logg *logger.Logger) {
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", healthChecker)

	go func() {
		logg.Info("Starting health server on port %d", cfg.Monitoring.HealthPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Monitoring.HealthPort), healthMux); err != nil {
			logg.Error("Health server error: %v", err)
		}
	}()

	go func() {
		logg.Info("Starting Prometheus server on port %d", cfg.Monitoring.PrometheusPort)
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), monitoring.NewMetricsHandler()); err != nil {
			logg.Error("Prometheus server error: %v", err)
		}
	}()
}
