// Package simulator replays historical timelines through the same
// pipeline production uses. Each run is sandboxed: its own stores, its
// own event log, its own registries, and a simulation-mode gate that is
// the only thing distinguishing a backtest from live operation.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-trading/advisor/internal/agent"
	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/eventlog"
	"github.com/tessera-trading/advisor/internal/portfolio"
	"github.com/tessera-trading/advisor/internal/risk"
	"github.com/tessera-trading/advisor/internal/service"
	"github.com/tessera-trading/advisor/internal/store/fsstore"
	"github.com/tessera-trading/advisor/internal/store/memstore"
)

// tickHourUTC is when the daily tick fires: after the US close, so the
// day's data is visible to that day's decision.
const tickHourUTC = 21

// seedQueryLimit bounds how many historical bars are pulled per ticker
// when seeding a sandbox.
const seedQueryLimit = 5000

// Engine runs backtests against a historical market-data source and
// records the results.
type Engine struct {
	market      domain.MarketDataStore
	simulations domain.SimulationStore
	bus         domain.EventBus // outer bus for run lifecycle events; may be nil
	cfg         config.Config
	logger      *slog.Logger
}

// New creates a simulation engine. market is the historical source the
// sandboxes are seeded from.
func New(
	market domain.MarketDataStore,
	simulations domain.SimulationStore,
	bus domain.EventBus,
	cfg config.Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		market:      market,
		simulations: simulations,
		bus:         bus,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "simulator")),
	}
}

// Run executes one backtest to completion and returns the finished
// record. The run record is persisted in every terminal state.
func (e *Engine) Run(ctx context.Context, run domain.SimulationRun) (domain.SimulationRun, error) {
	start, end, err := parseWindow(run.Config)
	if err != nil {
		return run, err
	}

	run.MarkStarted(time.Now().UTC())
	if err := e.simulations.Put(ctx, run); err != nil {
		return run, fmt.Errorf("simulator: persist run: %w", err)
	}
	e.announce(ctx, domain.EventTypeSimulationStarted, run)

	metrics, signalCount, runErr := e.execute(ctx, run, start, end)
	finished := time.Now().UTC()
	if runErr != nil {
		run.MarkFailed(finished, runErr.Error())
	} else {
		run.MarkCompleted(finished, metrics, signalCount)
	}
	if err := e.simulations.Put(ctx, run); err != nil {
		return run, fmt.Errorf("simulator: persist result: %w", err)
	}
	e.announce(ctx, domain.EventTypeSimulationCompleted, run)
	return run, runErr
}

// Compare runs several configurations over the identical window
// concurrently and returns the finished records in input order.
func (e *Engine) Compare(ctx context.Context, runs []domain.SimulationRun) ([]domain.SimulationRun, error) {
	results := make([]domain.SimulationRun, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	for i, run := range runs {
		g.Go(func() error {
			done, err := e.Run(gctx, run)
			results[i] = done
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (e *Engine) announce(ctx context.Context, typ domain.EventType, run domain.SimulationRun) {
	if e.bus == nil {
		return
	}
	ev := domain.NewEvent(typ, "simulator", map[string]any{
		"simulation_id": run.ID,
		"name":          run.Name,
		"status":        string(run.Status),
	})
	if _, err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "failed to announce simulation",
			slog.String("simulation_id", run.ID), slog.Any("error", err))
	}
}

// execute drives one sandboxed pipeline over the window day by day.
func (e *Engine) execute(ctx context.Context, run domain.SimulationRun, start, end time.Time) (domain.PerformanceMetrics, int, error) {
	dir, err := os.MkdirTemp("", "sim-"+run.ID+"-")
	if err != nil {
		return domain.PerformanceMetrics{}, 0, fmt.Errorf("simulator: workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	gate := clock.NewSimulation(start, run.ID)
	sb, err := e.buildSandbox(ctx, run, gate, dir, end)
	if err != nil {
		return domain.PerformanceMetrics{}, 0, err
	}

	initial := run.Config.InitialCapital
	if initial <= 0 {
		initial = e.cfg.Simulation.InitialCapital
	}
	if initial <= 0 {
		initial = 100_000
	}
	equity := []float64{initial}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		// Aborts only land between events, never mid-dispatch.
		if err := ctx.Err(); err != nil {
			return domain.PerformanceMetrics{}, 0, fmt.Errorf("simulator: aborted: %w", err)
		}

		tickAt := day.Add(tickHourUTC * time.Hour)
		if err := gate.AdvanceTo(tickAt); err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}

		tick, err := sb.bus.Publish(ctx, domain.NewEvent(domain.EventTypeTimeTick, "simulator", map[string]any{
			"day": day.Format("2006-01-02"),
		}))
		if err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}

		if err := sb.monitor.Sweep(ctx); err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}
		if _, err := sb.watcher.Scan(ctx); err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}
		if _, err := sb.orchestrator.Advise(ctx, &tick); err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}

		value, err := e.bookValue(ctx, sb, initial)
		if err != nil {
			return domain.PerformanceMetrics{}, 0, err
		}
		equity = append(equity, value)
	}

	// Pre-seed lessons from the simulated divergences.
	if _, err := sb.divergence.Review(ctx); err != nil {
		e.logger.WarnContext(ctx, "simulated divergence review failed",
			slog.String("simulation_id", run.ID), slog.Any("error", err))
	}

	trades, err := e.collectTrades(ctx, sb, run.Config)
	if err != nil {
		return domain.PerformanceMetrics{}, 0, err
	}

	metrics := ComputeMetrics(equity, trades, start, end)
	metrics.TotalSignals = sb.capture.Count()
	return metrics, sb.capture.Count(), nil
}

// bookValue is starting capital plus realized and unrealized paper P&L.
func (e *Engine) bookValue(ctx context.Context, sb *sandbox, initial float64) (float64, error) {
	positions, err := sb.positions.List(ctx, domain.PortfolioAI)
	if err != nil {
		return 0, fmt.Errorf("simulator: book value: %w", err)
	}
	value := initial
	for _, pos := range positions {
		if pos.Status == domain.PositionStatusClosed {
			if pos.RealizedPnL != nil {
				value += *pos.RealizedPnL
			}
			continue
		}
		if pos.PnL != nil {
			value += *pos.PnL
		}
	}
	return value, nil
}

// collectTrades returns the realized P&L of each closed paper trade,
// net of slippage and commission.
func (e *Engine) collectTrades(ctx context.Context, sb *sandbox, cfg domain.SimulationConfig) ([]float64, error) {
	positions, err := sb.positions.List(ctx, domain.PortfolioAI)
	if err != nil {
		return nil, fmt.Errorf("simulator: collect trades: %w", err)
	}

	slippage := cfg.SlippageBps
	if slippage <= 0 {
		slippage = e.cfg.Simulation.SlippageBps
	}

	var trades []float64
	for _, pos := range positions {
		if pos.Status != domain.PositionStatusClosed || pos.RealizedPnL == nil {
			continue
		}
		pnl := *pos.RealizedPnL
		size := 1.0
		if pos.Size != nil {
			size = *pos.Size
		}
		// Round-trip slippage on the entry notional.
		pnl -= pos.EntryPrice * size * slippage / 10_000 * 2
		pnl -= cfg.CommissionPerTrip
		trades = append(trades, pnl)
	}
	return trades, nil
}

// sandbox is one run's isolated pipeline.
type sandbox struct {
	bus          *eventlog.Log
	positions    domain.PositionStore
	capture      *CaptureDeliverer
	monitor      *service.PositionMonitor
	watcher      *service.ConfirmationWatcher
	orchestrator *service.Orchestrator
	divergence   *service.DivergenceEngine
}

// buildSandbox wires a full pipeline against run-private storage under
// dir, seeded with all historical data for the window. Visibility is
// still enforced read-side by the simulation gate.
func (e *Engine) buildSandbox(ctx context.Context, run domain.SimulationRun, gate clock.Gate, dir string, end time.Time) (*sandbox, error) {
	logger := e.logger.With(slog.String("simulation_id", run.ID))

	bus, err := eventlog.New(filepath.Join(dir, "events"), gate, logger)
	if err != nil {
		return nil, err
	}

	signals := fsstore.NewSignalStore(filepath.Join(dir, "signals"))
	positions := fsstore.NewPositionStore(filepath.Join(dir, "positions"))
	memories := fsstore.NewMemoryStore(filepath.Join(dir, "memories"))
	memos := fsstore.NewMemoStore(filepath.Join(dir, "memos"))
	index := memstore.NewMemoryIndex()

	seeded, err := e.seedMarketData(ctx, run, end)
	if err != nil {
		return nil, err
	}
	market := newGatedMarket(seeded, gate)

	tracker := portfolio.NewTracker(positions, market, gate, logger)
	engine := risk.NewEngineFromConfig(applyRiskOverrides(e.cfg.Risk, run.Config.RiskOverrides))
	locks := service.NewLocks()

	signalSvc := service.NewSignalService(signals, tracker, engine, bus, bus, gate, locks, logger)

	capture := NewCaptureDeliverer()
	timeout := e.cfg.Delivery.ConfirmationTimeout.Duration
	service.NewDeliveryService(signals, bus, gate, []service.Deliverer{capture}, timeout, locks, logger)

	watcher := service.NewConfirmationWatcher(signals, tracker, bus, gate, timeout, 0, locks, logger)
	monitor := service.NewPositionMonitor(positions, signals, tracker, bus, gate, locks, 0, logger)

	divergence := service.NewDivergenceEngine(positions, signals, memories, index, bus, gate, nil, e.cfg.Learning, logger)
	divergence.MarkSimulated()

	retriever := service.NewMemoryRetriever(memories, index, gate, e.cfg.Learning, logger)

	agents := agent.NewRegistry()
	advisorCfg := e.cfg.Advisor
	if len(run.Config.Agents) > 0 {
		advisorCfg.Agents = run.Config.Agents
	}
	agents.Register(agent.NewMomentum(market, advisorCfg.Momentum))

	orchestrator := service.NewOrchestrator(
		agents, tracker, market, bus, retriever, memos, signalSvc, bus, gate, advisorCfg, logger,
	)

	return &sandbox{
		bus:          bus,
		positions:    positions,
		capture:      capture,
		monitor:      monitor,
		watcher:      watcher,
		orchestrator: orchestrator,
		divergence:   divergence,
	}, nil
}

// seedMarketData copies the window's history (plus agent lookback) into
// a run-private store. Seeding the whole window up front is safe: the
// read side filters on available_at against the simulation cursor.
func (e *Engine) seedMarketData(ctx context.Context, run domain.SimulationRun, end time.Time) (*memstore.MarketDataStore, error) {
	seeded := memstore.NewMarketDataStore()

	tickers := make([]string, 0, len(e.cfg.Advisor.Watchlist)+2)
	tickers = append(tickers, e.cfg.Advisor.Watchlist...)
	if e.cfg.Advisor.Benchmark != "" {
		tickers = append(tickers, e.cfg.Advisor.Benchmark)
	}
	tickers = append(tickers, "^VIX")

	for _, ticker := range tickers {
		ticker = strings.ToUpper(ticker)
		bars, err := e.market.Query(ctx, ticker, end.AddDate(0, 0, 1), seedQueryLimit)
		if err != nil {
			return nil, fmt.Errorf("simulator: seed %s: %w", ticker, err)
		}
		if len(bars) == 0 {
			continue
		}
		if _, err := seeded.SaveBatch(ctx, bars); err != nil {
			return nil, fmt.Errorf("simulator: seed %s: %w", ticker, err)
		}
	}
	return seeded, nil
}

// applyRiskOverrides returns a copy of the base risk config with the
// run's overrides applied. Unknown keys are ignored.
func applyRiskOverrides(base config.RiskConfig, overrides map[string]any) config.RiskConfig {
	for key, raw := range overrides {
		v, ok := raw.(float64)
		if !ok {
			continue
		}
		switch key {
		case "min_confidence":
			base.MinConfidence = v
		case "max_single_position":
			base.MaxSinglePosition = v
		case "max_sector_exposure":
			base.MaxSectorExposure = v
		case "max_signals_per_day":
			base.MaxSignalsPerDay = int(v)
		case "max_drawdown":
			base.MaxDrawdown = v
		}
	}
	return base
}

func parseWindow(cfg domain.SimulationConfig) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", cfg.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("simulator: bad start date %q: %w", cfg.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", cfg.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("simulator: bad end date %q: %w", cfg.EndDate, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: simulation end %s before start %s",
			domain.ErrValidation, cfg.EndDate, cfg.StartDate)
	}
	return start.UTC(), end.UTC(), nil
}

// CaptureDeliverer implements the outbound delivery contract without
// leaving the process, so a simulated pipeline is indistinguishable
// from production past the gate.
type CaptureDeliverer struct {
	mu       sync.Mutex
	captured []domain.Signal
}

// NewCaptureDeliverer returns an empty capture sink.
func NewCaptureDeliverer() *CaptureDeliverer {
	return &CaptureDeliverer{}
}

var _ service.Deliverer = (*CaptureDeliverer)(nil)

func (c *CaptureDeliverer) Name() string { return "capture" }

// Deliver records the signal and always succeeds.
func (c *CaptureDeliverer) Deliver(ctx context.Context, signal domain.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured = append(c.captured, signal)
	return nil
}

// Captured returns a copy of everything delivered so far.
func (c *CaptureDeliverer) Captured() []domain.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Signal, len(c.captured))
	copy(out, c.captured)
	return out
}

// Count returns how many signals were delivered.
func (c *CaptureDeliverer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}
