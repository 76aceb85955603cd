package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/eventlog"
	"github.com/tessera-trading/advisor/internal/portfolio"
	"github.com/tessera-trading/advisor/internal/risk"
	"github.com/tessera-trading/advisor/internal/store/fsstore"
	"github.com/tessera-trading/advisor/internal/store/memstore"
)

var fixtureStart = time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fixture wires the full decision pipeline against a temp directory
// and a simulation gate, the same shape a backtest sandbox has.
type fixture struct {
	gate      *clock.Simulation
	bus       *eventlog.Log
	signals   *fsstore.SignalStore
	positions *fsstore.PositionStore
	memories  *fsstore.MemoryStore
	index     *memstore.MemoryIndex
	market    *memstore.MarketDataStore
	tracker   *portfolio.Tracker
	locks     *Locks
	svc       *SignalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	gate := clock.NewSimulation(fixtureStart, "sim_test")
	bus, err := eventlog.New(filepath.Join(dir, "events"), gate, testLogger())
	require.NoError(t, err)

	signals := fsstore.NewSignalStore(filepath.Join(dir, "signals"))
	positions := fsstore.NewPositionStore(filepath.Join(dir, "positions"))
	memories := fsstore.NewMemoryStore(filepath.Join(dir, "memories"))
	index := memstore.NewMemoryIndex()
	market := memstore.NewMarketDataStore()

	tracker := portfolio.NewTracker(positions, market, gate, testLogger())
	// Generous caps so the gate only rejects what a test asks it to.
	engine := risk.NewEngineFromConfig(config.RiskConfig{
		MinConfidence:     0.60,
		MaxSinglePosition: 2,
		MaxSectorExposure: 2,
		MaxSignalsPerDay:  25,
		MaxDrawdown:       1,
	})
	locks := NewLocks()

	return &fixture{
		gate:      gate,
		bus:       bus,
		signals:   signals,
		positions: positions,
		memories:  memories,
		index:     index,
		market:    market,
		tracker:   tracker,
		locks:     locks,
		svc:       NewSignalService(signals, tracker, engine, bus, bus, gate, locks, testLogger()),
	}
}

func (f *fixture) advance(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, f.gate.AdvanceTo(f.gate.Now().Add(d)))
}

func (f *fixture) seedQuote(t *testing.T, ticker string, at time.Time, close float64) {
	t.Helper()
	_, err := f.market.SaveBatch(context.Background(), []domain.MarketData{{
		Ticker:      ticker,
		Timestamp:   at,
		AvailableAt: at,
		Close:       close,
	}})
	require.NoError(t, err)
}

func (f *fixture) countEvents(t *testing.T, typ domain.EventType) int {
	t.Helper()
	n, err := f.bus.CountOnDay(context.Background(), f.gate.Now(), typ)
	require.NoError(t, err)
	return n
}

func proposeSignal(ticker string, confidence float64, entry, stop, target float64) domain.Signal {
	sig := domain.NewSignal(ticker, domain.DirectionBuy, "earnings momentum", confidence)
	sig.EntryTarget = &entry
	sig.StopLoss = &stop
	sig.TakeProfit = &target
	return sig
}

// stubDeliverer is a controllable delivery channel for tests.
type stubDeliverer struct {
	name      string
	fail      bool
	delivered []domain.Signal
}

func (d *stubDeliverer) Name() string { return d.name }

func (d *stubDeliverer) Deliver(_ context.Context, signal domain.Signal) error {
	if d.fail {
		return os.ErrDeadlineExceeded
	}
	d.delivered = append(d.delivered, signal)
	return nil
}
