// Package scheduler runs persisted tasks on cron schedules. Tasks are
// plain records anyone can create; the scheduler only decides when
// they are due and hands them to registered handlers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
)

// HandlerFunc executes one task run.
type HandlerFunc func(ctx context.Context, params map[string]any) (domain.TaskResult, error)

// Registry maps handler names to implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces a handler.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get resolves a handler by name.
func (r *Registry) Get(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("scheduler: handler %q: not registered", name)
	}
	return fn, nil
}

// List returns registered handler names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scheduler polls the task store and runs whatever is due. When a lock
// manager is configured, each task run takes a distributed lock so one
// replica executes it.
type Scheduler struct {
	tasks    domain.TaskStore
	bus      domain.EventBus
	gate     clock.Gate
	registry *Registry
	locks    domain.LockManager // nil disables distributed locking

	interval time.Duration
	lockTTL  time.Duration
	gron     *gronx.Gronx
	logger   *slog.Logger
}

// New creates a scheduler. interval defaults to one minute, matching
// cron's resolution.
func New(
	tasks domain.TaskStore,
	bus domain.EventBus,
	gate clock.Gate,
	registry *Registry,
	locks domain.LockManager,
	interval, lockTTL time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Scheduler{
		tasks:    tasks,
		bus:      bus,
		gate:     gate,
		registry: registry,
		locks:    locks,
		interval: interval,
		lockTTL:  lockTTL,
		gron:     gronx.New(),
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run polls until the context is canceled. Tick errors are logged, not
// fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick runs one due-check pass over every task. Exposed so simulated
// runs can drive the scheduler from their own clock.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.gate.Now()
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list tasks: %w", err)
	}

	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		due, err := s.due(task, now)
		if err != nil {
			s.logger.WarnContext(ctx, "bad task schedule",
				slog.String("task_id", task.ID), slog.Any("error", err))
			continue
		}
		if !due {
			continue
		}
		s.execute(ctx, task, now)
	}
	return nil
}

// due decides whether a task should fire at now. Recurring tasks use
// their cron expression with a same-minute dedupe so a fast tick
// interval cannot double-fire; one-off tasks fire once RunAt passes.
func (s *Scheduler) due(task domain.Task, now time.Time) (bool, error) {
	switch task.Type {
	case domain.TaskTypeOneOff, domain.TaskTypeResearch:
		if task.RunAt == nil {
			return false, fmt.Errorf("scheduler: one-off task %s has no run_at", task.ID)
		}
		if task.LastRunAt != nil {
			return false, nil
		}
		return !now.Before(*task.RunAt), nil
	}

	if task.CronExpression == "" {
		return false, fmt.Errorf("scheduler: recurring task %s has no cron expression", task.ID)
	}
	if task.LastRunAt != nil && task.LastRunAt.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
		return false, nil
	}
	return s.gron.IsDue(task.CronExpression, now)
}

// execute runs one task through its handler and records the outcome.
func (s *Scheduler) execute(ctx context.Context, task domain.Task, now time.Time) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "task:"+task.ID, s.lockTTL)
		if err != nil {
			s.logger.DebugContext(ctx, "task locked by another replica",
				slog.String("task_id", task.ID))
			return
		}
		defer unlock()
	}

	fn, err := s.registry.Get(task.Handler)
	if err != nil {
		s.recordRun(ctx, task, now, domain.TaskResult{
			Status:  domain.TaskResultError,
			Message: err.Error(),
		})
		return
	}

	s.logger.InfoContext(ctx, "running task",
		slog.String("task_id", task.ID),
		slog.String("handler", task.Handler),
	)

	result, err := fn(ctx, task.Params)
	if err != nil {
		result = domain.TaskResult{Status: domain.TaskResultError, Message: err.Error()}
	}
	s.recordRun(ctx, task, now, result)
}

func (s *Scheduler) recordRun(ctx context.Context, task domain.Task, now time.Time, result domain.TaskResult) {
	task.LastRunAt = &now
	task.LastResult = string(result.Status)
	task.RunCount++
	// One-shot tasks never fire twice.
	if task.Type == domain.TaskTypeOneOff || task.Type == domain.TaskTypeResearch {
		task.Enabled = false
	}
	if err := s.tasks.Put(ctx, task); err != nil {
		s.logger.ErrorContext(ctx, "failed to record task run",
			slog.String("task_id", task.ID), slog.Any("error", err))
	}

	eventType := domain.EventTypeTaskCompleted
	if result.Status == domain.TaskResultError {
		eventType = domain.EventTypeTaskFailed
	}
	ev := domain.NewEvent(eventType, "scheduler", map[string]any{
		"task_id": task.ID,
		"handler": task.Handler,
		"status":  string(result.Status),
		"message": result.Message,
	})
	if _, err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish task result",
			slog.String("task_id", task.ID), slog.Any("error", err))
	}
}
