package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-trading/advisor/internal/agent"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/notify"
	"github.com/tessera-trading/advisor/internal/portfolio"
	"github.com/tessera-trading/advisor/internal/risk"
	"github.com/tessera-trading/advisor/internal/scheduler"
	"github.com/tessera-trading/advisor/internal/server"
	"github.com/tessera-trading/advisor/internal/server/handler"
	"github.com/tessera-trading/advisor/internal/server/ws"
	"github.com/tessera-trading/advisor/internal/service"
	"github.com/tessera-trading/advisor/internal/simulator"
)

// pipeline holds the fully wired advisory services built on top of the
// raw dependencies.
type pipeline struct {
	tracker      *portfolio.Tracker
	locks        *service.Locks
	signals      *service.SignalService
	delivery     *service.DeliveryService
	watcher      *service.ConfirmationWatcher
	monitor      *service.PositionMonitor
	divergence   *service.DivergenceEngine
	retriever    *service.MemoryRetriever
	agents       *agent.Registry
	orchestrator *service.Orchestrator
	registry     *scheduler.Registry
	scheduler    *scheduler.Scheduler
	simulator    *simulator.Engine
}

// buildPipeline wires the advisory services. Constructing the delivery
// service, mirror bridge, and notification bridge also registers their
// event-bus subscriptions, so after this call the pipeline reacts to
// published events without further setup.
func (a *App) buildPipeline(deps *Dependencies) *pipeline {
	p := &pipeline{}

	p.tracker = portfolio.NewTracker(deps.Positions, deps.Market, deps.Gate, a.logger)
	p.locks = service.NewLocks()
	engine := risk.NewEngineFromConfig(a.cfg.Risk)

	p.signals = service.NewSignalService(
		deps.Signals, p.tracker, engine, deps.Bus, deps.Bus, deps.Gate, p.locks, a.logger,
	)

	var deliverers []service.Deliverer
	if a.cfg.Delivery.OutboxPath != "" {
		deliverers = append(deliverers, service.NewCSVOutbox(a.cfg.Delivery.OutboxPath, deps.Gate))
	}
	deliverers = append(deliverers, service.NewNotifierDeliverer(deps.Notifier))
	p.delivery = service.NewDeliveryService(
		deps.Signals, deps.Bus, deps.Gate, deliverers,
		a.cfg.Delivery.ConfirmationTimeout.Duration, p.locks, a.logger,
	)

	p.watcher = service.NewConfirmationWatcher(
		deps.Signals, p.tracker, deps.Bus, deps.Gate,
		a.cfg.Delivery.ConfirmationTimeout.Duration, a.cfg.Delivery.CheckInterval.Duration,
		p.locks, a.logger,
	)
	p.monitor = service.NewPositionMonitor(
		deps.Positions, deps.Signals, p.tracker, deps.Bus, deps.Gate,
		p.locks, a.cfg.Delivery.CheckInterval.Duration, a.logger,
	)

	p.divergence = service.NewDivergenceEngine(
		deps.Positions, deps.Signals, deps.Memories, deps.MemoryIndex,
		deps.Bus, deps.Gate, deps.Provider, a.cfg.Learning, a.logger,
	)
	p.retriever = service.NewMemoryRetriever(
		deps.Memories, deps.MemoryIndex, deps.Gate, a.cfg.Learning, a.logger,
	)

	p.agents = agent.NewRegistry()
	p.agents.Register(agent.NewMomentum(deps.Market, a.cfg.Advisor.Momentum))
	if deps.Provider != nil {
		p.agents.Register(agent.NewAnalyst(deps.Provider, a.logger))
	}

	p.orchestrator = service.NewOrchestrator(
		p.agents, p.tracker, deps.Market, deps.Bus, p.retriever,
		deps.Memos, p.signals, deps.Bus, deps.Gate, a.cfg.Advisor, a.logger,
	)

	p.registry = scheduler.NewRegistry()
	p.registry.Register(scheduler.HandlerDivergenceReview, scheduler.DivergenceHandler(p.divergence))
	p.registry.Register(scheduler.HandlerPositionsMonitor, scheduler.MonitorHandler(p.monitor))
	p.registry.Register(scheduler.HandlerConfirmationsCheck, scheduler.ConfirmationHandler(p.watcher))
	p.registry.Register(scheduler.HandlerDeliveryRetry, scheduler.RetryHandler(p.delivery))
	if deps.Archiver != nil {
		p.registry.Register(scheduler.HandlerArchiveEvents, scheduler.ArchiveHandler(deps.Archiver, deps.Gate))
	}

	var taskLocks domain.LockManager
	if a.cfg.Scheduler.DistributedLock {
		taskLocks = deps.LockManager
	}
	p.scheduler = scheduler.New(
		deps.Tasks, deps.Bus, deps.Gate, p.registry, taskLocks,
		a.cfg.Scheduler.CheckInterval.Duration, a.cfg.Scheduler.LockTTL.Duration, a.logger,
	)

	p.simulator = simulator.New(deps.Market, deps.Simulations, deps.Bus, *a.cfg, a.logger)

	// Outbound bridges.
	notify.NewBridge(deps.Notifier, deps.Bus)
	if deps.Mirror != nil {
		service.NewMirrorBridge(deps.Bus, deps.Mirror, a.logger)
	}

	return p
}

// AdviseMode runs one full decision cycle and exits: sweep positions,
// resolve pending confirmations, assemble context, run the agents, and
// gate every proposal.
func (a *App) AdviseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting advise mode")
	p := a.buildPipeline(deps)

	if err := p.monitor.Sweep(ctx); err != nil {
		a.logger.WarnContext(ctx, "advise mode: position sweep failed", slog.Any("error", err))
	}
	if _, err := p.watcher.Scan(ctx); err != nil {
		a.logger.WarnContext(ctx, "advise mode: confirmation scan failed", slog.Any("error", err))
	}

	signals, err := p.orchestrator.Advise(ctx, nil)
	if err != nil {
		return fmt.Errorf("advise mode: %w", err)
	}
	for _, sig := range signals {
		a.logger.InfoContext(ctx, "signal gated",
			slog.String("signal_id", sig.ID),
			slog.String("ticker", sig.Ticker),
			slog.String("direction", string(sig.Direction)),
			slog.String("status", string(sig.Status)),
		)
	}
	a.logger.InfoContext(ctx, "advise cycle complete", slog.Int("signals", len(signals)))
	return nil
}

// MonitorMode runs the long-lived watchers: position monitoring,
// confirmation timeouts, and the task scheduler. The HTTP server is
// started when enabled so the human can answer signals.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	p := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, p)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, p)
	}

	return g.Wait()
}

// SimulateMode executes the configured backtests and logs their metrics.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.Int("runs", len(a.cfg.Simulation.Runs)),
	)
	p := a.buildPipeline(deps)

	runs := make([]domain.SimulationRun, 0, len(a.cfg.Simulation.Runs))
	for _, rc := range a.cfg.Simulation.Runs {
		name := rc.Name
		if name == "" {
			name = rc.StartDate + " to " + rc.EndDate
		}
		runs = append(runs, domain.NewSimulationRun(name, domain.SimulationConfig{
			StartDate:      rc.StartDate,
			EndDate:        rc.EndDate,
			InitialCapital: a.cfg.Simulation.InitialCapital,
			Agents:         rc.Agents,
			SlippageBps:    a.cfg.Simulation.SlippageBps,
		}))
	}

	results, err := p.simulator.Compare(ctx, runs)
	if err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}
	for _, res := range results {
		if res.Status != domain.SimulationCompleted || res.Metrics == nil {
			a.logger.WarnContext(ctx, "simulation did not complete",
				slog.String("name", res.Name),
				slog.String("status", string(res.Status)),
				slog.String("error", res.Error),
			)
			continue
		}
		a.logger.InfoContext(ctx, "simulation complete",
			slog.String("name", res.Name),
			slog.Float64("total_return", res.Metrics.TotalReturn),
			slog.Float64("cagr", res.Metrics.CAGR),
			slog.Float64("sharpe", res.Metrics.SharpeRatio),
			slog.Float64("max_drawdown", res.Metrics.MaxDrawdown),
			slog.Int("signals", res.SignalCount),
			slog.Int("trades", res.Metrics.TotalTrades),
		)
	}
	return nil
}

// ServerMode runs only the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	p := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, p)
	return g.Wait()
}

// FullMode runs all subsystems: watchers, scheduler, and the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	p := a.buildPipeline(deps)

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps, p)
	a.startHTTPServer(ctx, g, deps, p)
	return g.Wait()
}

// startBackground adds the long-lived worker goroutines to the group.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	g.Go(func() error {
		return p.watcher.Run(ctx)
	})
	g.Go(func() error {
		return p.monitor.Run(ctx)
	})

	if a.cfg.Scheduler.Enabled {
		if err := scheduler.Seed(ctx, deps.Tasks, deps.Gate, a.cfg.Learning.ComparisonSchedule); err != nil {
			a.logger.WarnContext(ctx, "failed to seed scheduler tasks", slog.Any("error", err))
		}
		g.Go(func() error {
			return p.scheduler.Run(ctx)
		})
	}
}

// startHTTPServer adds the HTTP server (and WebSocket hub, when the
// event mirror is available) to the given errgroup. The server is shut
// down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	var hub *ws.Hub
	if deps.Mirror != nil {
		hub = ws.NewHub(deps.Mirror, a.logger, ws.Config{
			Mode:          a.cfg.Mode,
			StartedAt:     time.Now().UTC(),
			CatchupStream: service.MirrorStream,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, p.agents, p.tracker, deps.Gate),
		Events:      newEventsHandler(deps, a.logger),
		Portfolio:   handler.NewPortfolioHandler(p.tracker, a.logger),
		Signals:     handler.NewSignalsHandler(deps.Signals, p.signals, a.logger),
		Memories:    handler.NewMemoriesHandler(deps.Memories, deps.MemoryIndex, a.logger),
		Tasks:       handler.NewTasksHandler(deps.Tasks, p.registry, deps.Gate, a.logger),
		Simulations: handler.NewSimulationsHandler(deps.Simulations, p.simulator, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   120,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func newEventsHandler(deps *Dependencies, logger *slog.Logger) *handler.EventsHandler {
	h := handler.NewEventsHandler(deps.Bus, deps.Gate, logger)
	if deps.Blobs != nil {
		h = h.WithArchive(deps.Blobs)
	}
	return h
}
