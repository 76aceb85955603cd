package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/domain"
)

func TestOpenPotentialPositionApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.82, 880, 820, 990))
	require.NoError(t, err)

	assert.Equal(t, domain.SignalStatusApproved, sig.Status)
	require.NotNil(t, sig.RiskResult)
	assert.True(t, sig.RiskResult.Approved)
	assert.Equal(t, fixtureStart, sig.CreatedAt)
	assert.NotEmpty(t, sig.CorrelationID)

	// The paper book takes the signal at its entry target.
	pos, err := f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Equal(t, 880.0, pos.EntryPrice)
	assert.Equal(t, sig.ID, pos.SignalID)

	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeSignalProposed))
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeSignalApproved))
}

func TestOpenPotentialPositionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.40, 880, 820, 990))
	require.NoError(t, err, "a rejection is normal output, not an error")

	assert.Equal(t, domain.SignalStatusRejected, sig.Status)
	require.NotNil(t, sig.RiskResult)
	assert.False(t, sig.RiskResult.Approved)

	// No paper position for a rejected signal.
	_, err = f.positions.Get(ctx, domain.PortfolioAI, "NVDA")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeSignalRejected))
	assert.Equal(t, 0, f.countEvents(t, domain.EventTypeSignalApproved))
}

func TestOpenPotentialPositionValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenPotentialPosition(ctx, domain.NewSignal("", domain.DirectionBuy, "", 0.8))
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad := domain.NewSignal("NVDA", domain.DirectionBuy, "", 0.8)
	bad.Status = domain.SignalStatusApproved
	_, err = f.svc.OpenPotentialPosition(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFrequencyCapCountsApprovalEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The fixture allows 25 per day; approve three and check the count
	// the next gate evaluation would see.
	for _, ticker := range []string{"NVDA", "AMD", "SPY"} {
		_, err := f.svc.OpenPotentialPosition(ctx, proposeSignal(ticker, 0.8, 100, 90, 120))
		require.NoError(t, err)
	}

	n, err := f.bus.CountOnDay(ctx, f.gate.Now(), domain.EventTypeSignalApproved)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConfirmRecordsHumanFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := &stubDeliverer{name: "stub"}
	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{out}, 0, f.locks, testLogger())

	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 880, 820, 990))
	require.NoError(t, err)
	require.Equal(t, domain.SignalStatusDelivered, sig.Status)

	qty := 10.0
	pos, err := f.svc.Confirm(ctx, sig.ID, 883.50, qty, "api", "filled at open")
	require.NoError(t, err)

	assert.Equal(t, domain.PortfolioHuman, pos.Portfolio)
	assert.Equal(t, domain.PositionStatusConfirmed, pos.Status)
	assert.Equal(t, 883.50, pos.EntryPrice)
	require.NotNil(t, pos.Size)
	assert.Equal(t, qty, *pos.Size)
	assert.Equal(t, "api", pos.ConfirmedVia)

	final, err := f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, final.ConfirmationStatus)
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypePositionConfirmed))
}

func TestConfirmRejectsBadFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, "sig_whatever", 0, 10, "api", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Confirm(ctx, "sig_whatever", 100, -1, "api", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConfirmRequiresAwaitingConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 880, 820, 990))
	require.NoError(t, err)
	require.Equal(t, domain.SignalStatusApproved, sig.Status, "no deliverer registered")

	_, err = f.svc.Confirm(ctx, sig.ID, 883, 10, "api", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSkipRecordsDeclinedSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := &stubDeliverer{name: "stub"}
	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{out}, 0, f.locks, testLogger())

	sig, err := f.svc.OpenPotentialPosition(ctx, proposeSignal("NVDA", 0.8, 880, 820, 990))
	require.NoError(t, err)

	pos, err := f.svc.Skip(ctx, sig.ID, "api", "too extended")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusSkipped, pos.Status)
	assert.Equal(t, "too extended", pos.UserNotes)

	final, err := f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationSkipped, final.ConfirmationStatus)
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypePositionSkipped))
}

func TestReportTradeWithoutSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	size := 50.0
	pos, err := f.svc.ReportTrade(ctx, "tsla", domain.PositionShort, 180, &size, "api", "overvalued")
	require.NoError(t, err)

	assert.Equal(t, "TSLA", pos.Ticker)
	assert.Equal(t, domain.PositionShort, pos.Direction)
	assert.Empty(t, pos.SignalID, "human-initiated trades have no signal reference")
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypePositionOpened))

	_, err = f.svc.ReportTrade(ctx, "TSLA", "sideways", 180, nil, "api", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReportCloseRealizesPnL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	size := 10.0
	_, err := f.svc.ReportTrade(ctx, "NVDA", domain.PositionLong, 880, &size, "api", "")
	require.NoError(t, err)

	// Fresh entries move into monitoring before they can close.
	advanced, err := f.tracker.BeginMonitoring(ctx, domain.PortfolioHuman)
	require.NoError(t, err)
	require.Equal(t, 1, advanced)

	pos, err := f.svc.ReportClose(ctx, "nvda", 910, "api")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, 300, *pos.RealizedPnL, 1e-9)

	// Closing again is an invalid transition, not a silent no-op.
	_, err = f.svc.ReportClose(ctx, "NVDA", 900, "api")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
