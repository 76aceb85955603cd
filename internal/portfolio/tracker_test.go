package portfolio

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/store/fsstore"
	"github.com/tessera-trading/advisor/internal/store/memstore"
)

var trackerStart = time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *clock.Simulation, *memstore.MarketDataStore) {
	t.Helper()
	gate := clock.NewSimulation(trackerStart, "sim_tracker")
	market := memstore.NewMarketDataStore()
	store := fsstore.NewPositionStore(t.TempDir())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewTracker(store, market, gate, logger), gate, market
}

func buySignal(ticker string, entry float64) domain.Signal {
	sig := domain.NewSignal(ticker, domain.DirectionBuy, "test setup", 0.8)
	sig.EntryTarget = &entry
	return sig
}

func TestOpenPaperStartsMonitoring(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	pos, err := tracker.OpenPaper(ctx, buySignal("NVDA", 880))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Equal(t, domain.PortfolioAI, pos.Portfolio)
	assert.Equal(t, domain.PositionLong, pos.Direction)
	assert.Equal(t, 880.0, pos.EntryPrice)
	assert.Equal(t, trackerStart, pos.OpenedAt)
	assert.Nil(t, pos.Size, "paper positions are unsized")
}

func TestClosePaperRealizesPnL(t *testing.T) {
	tracker, gate, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.OpenPaper(ctx, buySignal("NVDA", 880))
	require.NoError(t, err)

	require.NoError(t, gate.AdvanceTo(trackerStart.Add(48*time.Hour)))
	pos, err := tracker.ClosePaper(ctx, "nvda", 910)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, 30.0, *pos.RealizedPnL, 1e-9)
	require.NotNil(t, pos.ClosedAt)
	assert.Equal(t, gate.Now(), *pos.ClosedAt)

	_, err = tracker.ClosePaper(ctx, "NVDA", 920)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConfirmHumanRecordsFill(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	size := 10.0
	sig := buySignal("NVDA", 880)
	pos, err := tracker.ConfirmHuman(ctx, sig, 883.5, &size, "telegram", "partial fill")
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusConfirmed, pos.Status)
	assert.Equal(t, domain.PortfolioHuman, pos.Portfolio)
	assert.Equal(t, sig.ID, pos.SignalID)
	assert.Equal(t, 883.5, pos.EntryPrice)
	assert.Equal(t, "telegram", pos.ConfirmedVia)
	require.NotNil(t, pos.ConfirmedAt)
	assert.Equal(t, trackerStart, *pos.ConfirmedAt)
}

func TestAssumeHumanLeavesNoConfirmation(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	pos, err := tracker.AssumeHuman(ctx, buySignal("NVDA", 880))
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Empty(t, pos.ConfirmedVia, "nobody actually told us")
	assert.Nil(t, pos.ConfirmedAt)
	assert.Equal(t, 880.0, pos.EntryPrice)
}

func TestSkipHumanIsTerminal(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	pos, err := tracker.SkipHuman(ctx, buySignal("NVDA", 880), "api", "too extended")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSkipped, pos.Status)
	assert.Equal(t, "too extended", pos.UserNotes)
	assert.False(t, pos.Open())

	_, err = tracker.CloseHuman(ctx, "NVDA", 900, "api")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBeginMonitoringAdvancesFreshEntries(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	size := 5.0
	_, err := tracker.ConfirmHuman(ctx, buySignal("NVDA", 880), 880, &size, "api", "")
	require.NoError(t, err)
	_, err = tracker.RecordHumanTrade(ctx, "tsla", domain.PositionShort, 250, nil, "api", "")
	require.NoError(t, err)
	_, err = tracker.SkipHuman(ctx, buySignal("AAPL", 190), "api", "")
	require.NoError(t, err)

	advanced, err := tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)
	assert.Equal(t, 2, advanced)

	nvda, err := tracker.Position(ctx, domain.PortfolioHuman, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, nvda.Status)
	tsla, err := tracker.Position(ctx, domain.PortfolioHuman, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, tsla.Status)

	// A second pass finds nothing left to advance.
	advanced, err = tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)
	assert.Zero(t, advanced)
}

func TestMarkToMarketHonoursVisibility(t *testing.T) {
	tracker, gate, market := newTracker(t)
	ctx := context.Background()

	_, err := tracker.OpenPaper(ctx, buySignal("NVDA", 880))
	require.NoError(t, err)

	// One quote already visible, one stamped in the future.
	_, err = market.SaveBatch(ctx, []domain.MarketData{
		{Ticker: "NVDA", Timestamp: trackerStart, AvailableAt: trackerStart, Close: 890},
		{Ticker: "NVDA", Timestamp: trackerStart.Add(24 * time.Hour), AvailableAt: trackerStart.Add(24 * time.Hour), Close: 930},
	})
	require.NoError(t, err)

	updated, err := tracker.MarkToMarket(ctx, domain.PortfolioAI)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	pos, err := tracker.Position(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	require.NotNil(t, pos.CurrentPrice)
	assert.Equal(t, 890.0, *pos.CurrentPrice)
	require.NotNil(t, pos.PnL)
	assert.InDelta(t, 10.0, *pos.PnL, 1e-9)

	// Once the clock passes the second bar, the mark moves with it.
	require.NoError(t, gate.AdvanceTo(trackerStart.Add(25*time.Hour)))
	_, err = tracker.MarkToMarket(ctx, domain.PortfolioAI)
	require.NoError(t, err)
	pos, err = tracker.Position(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 930.0, *pos.CurrentPrice)
}

func TestMarkToMarketSkipsUnquotedTickers(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.OpenPaper(ctx, buySignal("NVDA", 880))
	require.NoError(t, err)

	updated, err := tracker.MarkToMarket(ctx, domain.PortfolioAI)
	require.NoError(t, err)
	assert.Zero(t, updated)

	pos, err := tracker.Position(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Nil(t, pos.CurrentPrice)
}

func TestSummaryAggregatesOpenPositions(t *testing.T) {
	tracker, _, market := newTracker(t)
	ctx := context.Background()

	size := 10.0
	_, err := tracker.ConfirmHuman(ctx, buySignal("NVDA", 880), 880, &size, "api", "")
	require.NoError(t, err)
	_, err = tracker.RecordHumanTrade(ctx, "TSLA", domain.PositionShort, 250, nil, "api", "")
	require.NoError(t, err)
	_, err = tracker.SkipHuman(ctx, buySignal("AAPL", 190), "api", "")
	require.NoError(t, err)

	_, err = market.SaveBatch(ctx, []domain.MarketData{
		{Ticker: "NVDA", Timestamp: trackerStart, AvailableAt: trackerStart, Close: 900},
		{Ticker: "TSLA", Timestamp: trackerStart, AvailableAt: trackerStart, Close: 240},
	})
	require.NoError(t, err)
	_, err = tracker.MarkToMarket(ctx, domain.PortfolioHuman)
	require.NoError(t, err)

	sum, err := tracker.Summary(ctx, domain.PortfolioHuman)
	require.NoError(t, err)

	assert.Equal(t, domain.PortfolioHuman, sum.PortfolioType)
	assert.Len(t, sum.Positions, 2, "skipped positions do not count toward exposure")
	// NVDA: 900 x 10 plus TSLA: 240 x 1.
	assert.InDelta(t, 9240.0, sum.TotalValue, 1e-9)
	// NVDA long +20 x 10, TSLA short +10 x 1.
	assert.InDelta(t, 210.0, sum.TotalPnL, 1e-9)

	_, ok := sum.OpenPosition("NVDA")
	assert.True(t, ok)
	_, ok = sum.OpenPosition("AAPL")
	assert.False(t, ok)
}
