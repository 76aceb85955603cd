package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/domain"
)

func newMonitor(f *fixture) *PositionMonitor {
	return NewPositionMonitor(f.positions, f.signals, f.tracker, f.bus, f.gate, f.locks, 0, testLogger())
}

func TestExitLevel(t *testing.T) {
	stop, target := 90.0, 120.0
	long := domain.Position{Direction: domain.PositionLong}
	short := domain.Position{Direction: domain.PositionShort}
	sig := domain.Signal{StopLoss: &stop, TakeProfit: &target}
	shortSig := domain.Signal{StopLoss: &target, TakeProfit: &stop}

	cases := []struct {
		name       string
		pos        domain.Position
		signal     domain.Signal
		price      float64
		wantPrice  float64
		wantReason string
	}{
		{"long between levels", long, sig, 100, 0, ""},
		{"long stop crossed", long, sig, 89, 90, "stop_loss"},
		{"long stop exact", long, sig, 90, 90, "stop_loss"},
		{"long target crossed", long, sig, 121, 120, "take_profit"},
		{"short between levels", short, shortSig, 100, 0, ""},
		{"short stop crossed", short, shortSig, 125, 120, "stop_loss"},
		{"short target crossed", short, shortSig, 85, 90, "take_profit"},
		{"no levels set", long, domain.Signal{}, 50, 0, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, reason := exitLevel(tc.pos, tc.signal, tc.price)
			assert.Equal(t, tc.wantReason, reason)
			assert.Equal(t, tc.wantPrice, price)
		})
	}
}

func TestExitLevelStopBeatsTarget(t *testing.T) {
	// A gap that crosses both levels reads conservatively: the stop
	// filled first.
	stop, target := 90.0, 95.0
	pos := domain.Position{Direction: domain.PositionLong}
	sig := domain.Signal{StopLoss: &stop, TakeProfit: &target}

	price, reason := exitLevel(pos, sig, 90)
	assert.Equal(t, "stop_loss", reason)
	assert.Equal(t, stop, price)
}

func TestSweepClosesPaperPositionAtStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := newMonitor(f)

	_, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	// A day later the quote gaps below the stop.
	f.advance(t, 24*time.Hour)
	f.seedQuote(t, "NVDA", f.gate.Now(), 85)

	require.NoError(t, m.Sweep(ctx))

	pos, err := f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ClosePrice)
	assert.Equal(t, 90.0, *pos.ClosePrice, "the exit fills at the stop level, not the gap print")
	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, -10, *pos.RealizedPnL, 1e-9)

	// The human gets told why the paper book left.
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeAlertTriggered))
}

func TestSweepClosesPaperPositionAtTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := newMonitor(f)

	_, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	f.advance(t, 24*time.Hour)
	f.seedQuote(t, "NVDA", f.gate.Now(), 125)

	require.NoError(t, m.Sweep(ctx))

	pos, err := f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ClosePrice)
	assert.Equal(t, 120.0, *pos.ClosePrice)
	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, 20, *pos.RealizedPnL, 1e-9)
}

func TestSweepNeverClosesHumanBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := newMonitor(f)

	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		time.Hour, f.locks, testLogger())
	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, sig.ID, 100, 10, "api", "")
	require.NoError(t, err)

	f.advance(t, 24*time.Hour)
	f.seedQuote(t, "NVDA", f.gate.Now(), 85)

	require.NoError(t, m.Sweep(ctx))

	human, err := f.positions.Get(ctx, domain.PortfolioHuman, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, human.Status,
		"the human book is only ever flagged, never closed automatically")
	require.NotNil(t, human.PnL)
	assert.InDelta(t, -150, *human.PnL, 1e-9)
}

func TestSweepIgnoresPositionsWithoutQuotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := newMonitor(f)

	_, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	require.NoError(t, m.Sweep(ctx))

	pos, err := f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Nil(t, pos.CurrentPrice)
}

func TestSweepHonoursQuoteVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := newMonitor(f)

	_, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 100, 90, 120))
	require.NoError(t, err)

	// A quote stamped in the future must not leak into this sweep.
	f.seedQuote(t, "NVDA", f.gate.Now().Add(48*time.Hour), 85)

	require.NoError(t, m.Sweep(ctx))

	pos, err := f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Nil(t, pos.CurrentPrice)
}
