package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/eventlog"
	"github.com/tessera-trading/advisor/internal/service"
	"github.com/tessera-trading/advisor/internal/store/fsstore"
)

var schedStart = time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)

type schedFixture struct {
	gate     *clock.Simulation
	bus      *eventlog.Log
	tasks    *fsstore.TaskStore
	registry *Registry
	sched    *Scheduler
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	gate := clock.NewSimulation(schedStart, "sim_sched")
	bus, err := eventlog.New(filepath.Join(dir, "events"), gate, logger)
	require.NoError(t, err)
	tasks := fsstore.NewTaskStore(filepath.Join(dir, "tasks"))
	registry := NewRegistry()

	return &schedFixture{
		gate:     gate,
		bus:      bus,
		tasks:    tasks,
		registry: registry,
		sched:    New(tasks, bus, gate, registry, nil, time.Minute, time.Minute, logger),
	}
}

func (f *schedFixture) countEvents(t *testing.T, typ domain.EventType) int {
	t.Helper()
	n, err := f.bus.CountOnDay(context.Background(), f.gate.Now(), typ)
	require.NoError(t, err)
	return n
}

func countingHandler(runs *int) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		*runs++
		return domain.TaskResult{Status: domain.TaskResultSuccess, Message: "ok"}, nil
	}
}

func TestTickRunsDueRecurringTask(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	runs := 0
	f.registry.Register("test.handler", countingHandler(&runs))

	task := domain.NewTask("Every minute", "test.handler")
	task.CronExpression = "* * * * *"
	task.CreatedAt = f.gate.Now()
	require.NoError(t, f.tasks.Put(ctx, task))

	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, runs)

	stored, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.Equal(t, schedStart, *stored.LastRunAt)
	assert.Equal(t, "success", stored.LastResult)
	assert.Equal(t, 1, stored.RunCount)
	assert.True(t, stored.Enabled, "recurring tasks stay enabled")
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeTaskCompleted))

	// Repeated ticks inside the same minute do not double-fire.
	require.NoError(t, f.sched.Tick(ctx))
	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, runs)

	// The next minute is a fresh firing.
	require.NoError(t, f.gate.AdvanceTo(schedStart.Add(time.Minute)))
	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 2, runs)
}

func TestTickSkipsDisabledTasks(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	runs := 0
	f.registry.Register("test.handler", countingHandler(&runs))

	task := domain.NewTask("Disabled", "test.handler")
	task.CronExpression = "* * * * *"
	task.Enabled = false
	require.NoError(t, f.tasks.Put(ctx, task))

	require.NoError(t, f.sched.Tick(ctx))
	assert.Zero(t, runs)
}

func TestOneOffFiresOnceThenDisables(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	runs := 0
	f.registry.Register("test.handler", countingHandler(&runs))

	runAt := schedStart.Add(30 * time.Minute)
	task := domain.NewTask("Run later", "test.handler")
	task.Type = domain.TaskTypeOneOff
	task.RunAt = &runAt
	require.NoError(t, f.tasks.Put(ctx, task))

	// Not due yet.
	require.NoError(t, f.sched.Tick(ctx))
	assert.Zero(t, runs)

	require.NoError(t, f.gate.AdvanceTo(runAt.Add(time.Minute)))
	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, runs)

	stored, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled, "one-off tasks never fire twice")

	require.NoError(t, f.gate.AdvanceTo(runAt.Add(time.Hour)))
	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, runs)
}

func TestMissingHandlerRecordsFailure(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	task := domain.NewTask("Orphaned", "nobody.home")
	task.CronExpression = "* * * * *"
	require.NoError(t, f.tasks.Put(ctx, task))

	require.NoError(t, f.sched.Tick(ctx))

	stored, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", stored.LastResult)
	assert.Equal(t, 1, stored.RunCount)
	assert.Equal(t, 1, f.countEvents(t, domain.EventTypeTaskFailed))
	assert.Zero(t, f.countEvents(t, domain.EventTypeTaskCompleted))
}

func TestBadScheduleIsSkippedNotFatal(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	runs := 0
	f.registry.Register("test.handler", countingHandler(&runs))

	broken := domain.NewTask("No cron", "test.handler")
	require.NoError(t, f.tasks.Put(ctx, broken))
	healthy := domain.NewTask("Fine", "test.handler")
	healthy.CronExpression = "* * * * *"
	require.NoError(t, f.tasks.Put(ctx, healthy))

	require.NoError(t, f.sched.Tick(ctx))
	assert.Equal(t, 1, runs, "the healthy task still runs")
}

func TestSeedCreatesDefaultsOnce(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, f.tasks, f.gate, "0 9 * * 1"))

	all, err := f.tasks.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	byHandler := make(map[string]domain.Task, len(all))
	for _, task := range all {
		byHandler[task.Handler] = task
		assert.True(t, task.Enabled)
		assert.Equal(t, "system", task.CreatedBy)
		assert.Equal(t, domain.TaskTypeRecurring, task.Type)
		assert.Equal(t, schedStart, task.CreatedAt)
	}
	assert.Equal(t, "0 9 * * 1", byHandler[HandlerDivergenceReview].CronExpression)
	assert.Equal(t, "*/5 * * * *", byHandler[HandlerPositionsMonitor].CronExpression)
	assert.Equal(t, "* * * * *", byHandler[HandlerConfirmationsCheck].CronExpression)
	assert.Equal(t, "*/10 * * * *", byHandler[HandlerDeliveryRetry].CronExpression)
	assert.Equal(t, "0 1 * * *", byHandler[HandlerArchiveEvents].CronExpression)

	// Operator edits survive a reseed: matched by handler, not recreated.
	edited := byHandler[HandlerPositionsMonitor]
	edited.CronExpression = "*/15 * * * *"
	require.NoError(t, f.tasks.Put(ctx, edited))

	require.NoError(t, Seed(ctx, f.tasks, f.gate, "0 9 * * 1"))
	all, err = f.tasks.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	kept, err := f.tasks.Get(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", kept.CronExpression)
}

// stubChannel is a delivery channel that always succeeds.
type stubChannel struct {
	delivered int
}

func (s *stubChannel) Name() string { return "stub" }

func (s *stubChannel) Deliver(context.Context, domain.Signal) error {
	s.delivered++
	return nil
}

func TestRetryHandlerRedeliversStuckSignals(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	signals := fsstore.NewSignalStore(filepath.Join(t.TempDir(), "signals"))
	sig := domain.NewSignal("NVDA", domain.DirectionBuy, "breakout above resistance", 0.8)
	sig.CreatedAt = f.gate.Now()
	require.NoError(t, sig.Transition(domain.SignalStatusApproved))
	sig.DeliveryErrors = []string{"notifier: connection refused"}
	require.NoError(t, signals.Put(ctx, sig))

	out := &stubChannel{}
	delivery := service.NewDeliveryService(
		signals, f.bus, f.gate, []service.Deliverer{out}, time.Hour, service.NewLocks(), logger,
	)
	handler := RetryHandler(delivery)

	result, err := handler(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskResultSuccess, result.Status)
	assert.Equal(t, "delivered 1 stuck signals", result.Message)
	assert.Equal(t, 1, out.delivered)

	stored, err := signals.Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStatusDelivered, stored.Status)

	again, err := handler(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskResultNoAction, again.Status)
	assert.Equal(t, 1, out.delivered)
}

// stubArchiver records the cutoff it was asked to archive before.
type stubArchiver struct {
	cutoff time.Time
	events int64
	sims   int64
}

func (a *stubArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	a.cutoff = before
	return a.events, nil
}

func (a *stubArchiver) ArchiveSimulations(_ context.Context, before time.Time) (int64, error) {
	return a.sims, nil
}

func TestArchiveHandlerDefaultsToThirtyDays(t *testing.T) {
	f := newSchedFixture(t)
	arch := &stubArchiver{events: 12, sims: 2}
	handler := ArchiveHandler(arch, f.gate)

	result, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskResultSuccess, result.Status)
	assert.Equal(t, "archived 12 events and 2 simulation runs", result.Message)
	assert.Equal(t, schedStart.AddDate(0, 0, -30), arch.cutoff)
}

func TestArchiveHandlerHonoursRetentionOverride(t *testing.T) {
	f := newSchedFixture(t)
	arch := &stubArchiver{events: 1}
	handler := ArchiveHandler(arch, f.gate)

	// Params arrive from JSON, so numbers decode as float64.
	_, err := handler(context.Background(), map[string]any{"retention_days": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, schedStart.AddDate(0, 0, -7), arch.cutoff)
}

func TestArchiveHandlerReportsNoAction(t *testing.T) {
	f := newSchedFixture(t)
	handler := ArchiveHandler(&stubArchiver{}, f.gate)

	result, err := handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskResultNoAction, result.Status)
}
