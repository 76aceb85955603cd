package eventlog

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func simLog(t *testing.T, start time.Time) (*Log, *clock.Simulation) {
	t.Helper()
	gate := clock.NewSimulation(start, "sim_abc123def456")
	log, err := New(filepath.Join(t.TempDir(), "events"), gate, testLogger())
	require.NoError(t, err)
	return log, gate
}

func TestPublishStampsGateTime(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)

	stamped, err := log.Publish(context.Background(),
		domain.NewEvent(domain.EventTypeSignalProposed, "analyst", map[string]any{"ticker": "NVDA"}))
	require.NoError(t, err)
	assert.Equal(t, start, stamped.Timestamp)
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)

	e := domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil)
	e.Timestamp = start.Add(-48 * time.Hour)
	stamped, err := log.Publish(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, e.Timestamp, stamped.Timestamp)
}

func TestPublishWritesDailyFile(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)

	_, err := log.Publish(context.Background(),
		domain.NewEvent(domain.EventTypeSignalProposed, "analyst", nil))
	require.NoError(t, err)

	path := filepath.Join(log.Dir(), "2024-03-04.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 1, lines)
}

func TestEventsLandInFilePerDay(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, gate := simLog(t, start)
	ctx := context.Background()

	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil))
	require.NoError(t, err)

	require.NoError(t, gate.AdvanceTo(start.Add(24*time.Hour)))
	_, err = log.Publish(ctx, domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(log.Dir(), "2024-03-04.jsonl"))
	assert.FileExists(t, filepath.Join(log.Dir(), "2024-03-05.jsonl"))
}

func TestSubscribeDispatchAfterAppend(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)
	ctx := context.Background()

	var seen []domain.Event
	log.Subscribe(domain.EventTypeSignalProposed, func(_ context.Context, e domain.Event) error {
		seen = append(seen, e)
		return nil
	})

	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalProposed, "analyst", nil))
	require.NoError(t, err)
	_, err = log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalApproved, "risk_engine", nil))
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, domain.EventTypeSignalProposed, seen[0].Type)
	assert.False(t, seen[0].Timestamp.IsZero(), "handlers must see the stamped event")
}

func TestWildcardSubscriber(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)
	ctx := context.Background()

	count := 0
	log.Subscribe(domain.EventTypeWildcard, func(context.Context, domain.Event) error {
		count++
		return nil
	})

	for _, typ := range []domain.EventType{
		domain.EventTypeSignalProposed,
		domain.EventTypeSignalApproved,
		domain.EventTypeMemoryCreated,
	} {
		_, err := log.Publish(ctx, domain.NewEvent(typ, "test", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, count)
}

func TestHandlerFailureIsolation(t *testing.T) {
	start := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)
	ctx := context.Background()

	calls := []string{}
	log.Subscribe(domain.EventTypeSignalProposed, func(context.Context, domain.Event) error {
		calls = append(calls, "failing")
		return errors.New("boom")
	})
	log.Subscribe(domain.EventTypeSignalProposed, func(context.Context, domain.Event) error {
		calls = append(calls, "panicking")
		panic("boom")
	})
	log.Subscribe(domain.EventTypeSignalProposed, func(context.Context, domain.Event) error {
		calls = append(calls, "healthy")
		return nil
	})

	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalProposed, "analyst", nil))
	require.NoError(t, err, "subscriber failures must not fail the publish")
	assert.Equal(t, []string{"failing", "panicking", "healthy"}, calls)

	// The event must be on disk regardless of handler outcomes.
	events, err := log.ReadDay(ctx, start)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadDayHidesFutureEvents(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	log, gate := simLog(t, start)
	ctx := context.Background()

	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil))
	require.NoError(t, err)

	require.NoError(t, gate.AdvanceTo(start.Add(6*time.Hour)))
	later := domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil)
	_, err = log.Publish(ctx, later)
	require.NoError(t, err)

	// Rewind visibility by reading through a fresh gate at the earlier
	// cursor pointing at the same directory.
	early := clock.NewSimulation(start, "sim_abc123def456")
	reader, err := New(log.Dir(), early, testLogger())
	require.NoError(t, err)

	events, err := reader.ReadDay(ctx, start)
	require.NoError(t, err)
	assert.Len(t, events, 1, "the later event is not yet visible at the earlier cursor")
}

func TestByCorrelation(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	log, gate := simLog(t, start)
	ctx := context.Background()

	parent, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalProposed, "analyst", nil))
	require.NoError(t, err)

	require.NoError(t, gate.AdvanceTo(start.Add(26*time.Hour)))
	_, err = log.Publish(ctx, parent.Derive(domain.EventTypeSignalApproved, "risk_engine", nil))
	require.NoError(t, err)
	_, err = log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalProposed, "analyst", nil))
	require.NoError(t, err)

	chain, err := log.ByCorrelation(ctx, parent.CorrelationID, 7)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, domain.EventTypeSignalProposed, chain[0].Type)
	assert.Equal(t, domain.EventTypeSignalApproved, chain[1].Type)
}

func TestCountOnDay(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)
	ctx := context.Background()

	for range 3 {
		_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalApproved, "risk_engine", nil))
		require.NoError(t, err)
	}
	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeSignalRejected, "risk_engine", nil))
	require.NoError(t, err)

	count, err := log.CountOnDay(ctx, start, domain.EventTypeSignalApproved)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = log.CountOnDay(ctx, start.Add(24*time.Hour), domain.EventTypeSignalApproved)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMalformedLineSkipped(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	log, _ := simLog(t, start)
	ctx := context.Background()

	_, err := log.Publish(ctx, domain.NewEvent(domain.EventTypeTimeTick, "simulator", nil))
	require.NoError(t, err)

	// Simulate a torn write at the end of the file.
	path := filepath.Join(log.Dir(), "2024-03-04.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"evt_trunc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := log.ReadDay(ctx, start)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
