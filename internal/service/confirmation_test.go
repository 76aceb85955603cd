package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/domain"
)

const confirmTimeout = 4 * time.Hour

// deliverSignal pushes one approved signal through a stub channel and
// returns it in the delivered/pending state.
func deliverSignal(t *testing.T, f *fixture) domain.Signal {
	t.Helper()
	NewDeliveryService(f.signals, f.bus, f.gate, []Deliverer{&stubDeliverer{name: "stub"}},
		confirmTimeout, f.locks, testLogger())

	sig, err := f.svc.OpenPotentialPosition(context.Background(), proposeSignal("NVDA", 0.8, 880, 820, 990))
	require.NoError(t, err)
	require.Equal(t, domain.SignalStatusDelivered, sig.Status)
	return sig
}

func newWatcher(f *fixture) *ConfirmationWatcher {
	return NewConfirmationWatcher(f.signals, f.tracker, f.bus, f.gate,
		confirmTimeout, 0, f.locks, testLogger())
}

func TestScanBeforeDueDoesNothing(t *testing.T) {
	f := newFixture(t)
	sig := deliverSignal(t, f)
	w := newWatcher(f)

	f.advance(t, confirmTimeout-time.Minute)
	acted, err := w.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, acted)

	stored, err := f.signals.Get(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ConfirmationReminderSentAt)
}

func TestExactlyOneReminderThenAssumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := deliverSignal(t, f)
	w := newWatcher(f)

	// Past due: the one reminder fires.
	f.advance(t, confirmTimeout+time.Minute)
	acted, err := w.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acted)

	stored, err := f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConfirmationReminderSentAt)
	reminderAt := *stored.ConfirmationReminderSentAt

	// Repeated scans inside the grace window send nothing more.
	f.advance(t, time.Minute)
	acted, err = w.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, acted)

	stored, err = f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, reminderAt, *stored.ConfirmationReminderSentAt)

	// One more timeout after the reminder: assumed executed.
	f.advance(t, confirmTimeout)
	acted, err = w.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acted)

	stored, err = f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationAssumed, stored.ConfirmationStatus)

	pos, err := f.positions.Get(ctx, domain.PortfolioHuman, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusMonitoring, pos.Status)
	assert.Empty(t, pos.ConfirmedVia, "nobody actually told us it was taken")

	assert.Equal(t, 1, f.countEvents(t, domain.EventTypePositionReminderSent))
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypePositionAssumed))
}

func TestExplicitConfirmBeatsTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := deliverSignal(t, f)
	w := newWatcher(f)

	f.advance(t, confirmTimeout+time.Minute)
	_, err := w.Scan(ctx)
	require.NoError(t, err)

	// User answers after the reminder, before the assumption deadline.
	_, err = f.svc.Confirm(ctx, sig.ID, 882, 10, "telegram", "")
	require.NoError(t, err)

	// Deep past the deadline, the watcher must not overwrite the answer.
	f.advance(t, 10*confirmTimeout)
	acted, err := w.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, acted)

	stored, err := f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, stored.ConfirmationStatus)

	pos, err := f.positions.Get(ctx, domain.PortfolioHuman, "NVDA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusConfirmed, pos.Status)
	assert.Equal(t, "telegram", pos.ConfirmedVia)
	assert.Equal(t, 0, f.countEvents(t, domain.EventTypePositionAssumed))
}

func TestSkipBeatsTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sig := deliverSignal(t, f)
	w := newWatcher(f)

	_, err := f.svc.Skip(ctx, sig.ID, "discord", "not convinced")
	require.NoError(t, err)

	f.advance(t, 10*confirmTimeout)
	acted, err := w.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, acted)

	stored, err := f.signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationSkipped, stored.ConfirmationStatus)
}
