package scheduler

import (
	"context"
	"fmt"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/service"
)

// Built-in handler names.
const (
	HandlerDivergenceReview   = "divergence.review"
	HandlerPositionsMonitor   = "positions.monitor"
	HandlerConfirmationsCheck = "confirmations.check"
	HandlerDeliveryRetry      = "delivery.retry"
	HandlerArchiveEvents      = "archive.events"
)

// defaultArchiveRetentionDays keeps a month of event files local
// before archival.
const defaultArchiveRetentionDays = 30

// DivergenceHandler adapts the divergence engine's review pass.
func DivergenceHandler(engine *service.DivergenceEngine) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		created, err := engine.Review(ctx)
		if err != nil {
			return domain.TaskResult{}, err
		}
		if created == 0 {
			return domain.TaskResult{
				Status:  domain.TaskResultNoAction,
				Message: "no unresolved divergences",
			}, nil
		}
		return domain.TaskResult{
			Status:  domain.TaskResultSuccess,
			Message: fmt.Sprintf("created %d memories", created),
		}, nil
	}
}

// MonitorHandler adapts the position monitor's sweep.
func MonitorHandler(monitor *service.PositionMonitor) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		if err := monitor.Sweep(ctx); err != nil {
			return domain.TaskResult{}, err
		}
		return domain.TaskResult{
			Status:  domain.TaskResultSuccess,
			Message: "both portfolios swept",
		}, nil
	}
}

// ConfirmationHandler adapts the pending-confirmation watcher.
func ConfirmationHandler(watcher *service.ConfirmationWatcher) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		acted, err := watcher.Scan(ctx)
		if err != nil {
			return domain.TaskResult{}, err
		}
		if acted == 0 {
			return domain.TaskResult{
				Status:  domain.TaskResultNoAction,
				Message: "no confirmations due",
			}, nil
		}
		return domain.TaskResult{
			Status:  domain.TaskResultSuccess,
			Message: fmt.Sprintf("acted on %d pending confirmations", acted),
		}, nil
	}
}

// RetryHandler re-pushes signals left approved after a failed delivery,
// so a channel outage only delays the human notification.
func RetryHandler(delivery *service.DeliveryService) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		delivered, failed, err := delivery.RetryStuck(ctx)
		if err != nil {
			return domain.TaskResult{}, err
		}
		if delivered == 0 && failed == 0 {
			return domain.TaskResult{
				Status:  domain.TaskResultNoAction,
				Message: "no stuck deliveries",
			}, nil
		}
		if failed > 0 {
			return domain.TaskResult{
				Status:  domain.TaskResultError,
				Message: fmt.Sprintf("delivered %d, %d still failing", delivered, failed),
			}, nil
		}
		return domain.TaskResult{
			Status:  domain.TaskResultSuccess,
			Message: fmt.Sprintf("delivered %d stuck signals", delivered),
		}, nil
	}
}

// ArchiveHandler moves event files older than the retention window to
// blob storage and snapshots completed simulation runs from the same
// period. Retention can be overridden per task via params.
func ArchiveHandler(archiver domain.Archiver, gate clock.Gate) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (domain.TaskResult, error) {
		days := defaultArchiveRetentionDays
		if v, ok := params["retention_days"].(float64); ok && v > 0 {
			days = int(v)
		}
		cutoff := gate.Now().AddDate(0, 0, -days)
		events, err := archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			return domain.TaskResult{}, err
		}
		sims, err := archiver.ArchiveSimulations(ctx, cutoff)
		if err != nil {
			return domain.TaskResult{}, err
		}
		if events == 0 && sims == 0 {
			return domain.TaskResult{
				Status:  domain.TaskResultNoAction,
				Message: "nothing old enough to archive",
			}, nil
		}
		return domain.TaskResult{
			Status:  domain.TaskResultSuccess,
			Message: fmt.Sprintf("archived %d events and %d simulation runs", events, sims),
		}, nil
	}
}

// Seed creates the built-in recurring tasks that do not exist yet,
// matched by handler name so operator edits survive restarts.
func Seed(ctx context.Context, tasks domain.TaskStore, gate clock.Gate, comparisonSchedule string) error {
	if comparisonSchedule == "" {
		comparisonSchedule = "0 9 * * 0"
	}
	defaults := []struct {
		name    string
		handler string
		cron    string
	}{
		{"Weekly portfolio comparison", HandlerDivergenceReview, comparisonSchedule},
		{"Position monitoring", HandlerPositionsMonitor, "*/5 * * * *"},
		{"Pending confirmation check", HandlerConfirmationsCheck, "* * * * *"},
		{"Delivery retry", HandlerDeliveryRetry, "*/10 * * * *"},
		{"Event archival", HandlerArchiveEvents, "0 1 * * *"},
	}

	existing, err := tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: seed list: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Handler] = true
	}

	for _, d := range defaults {
		if have[d.handler] {
			continue
		}
		task := domain.NewTask(d.name, d.handler)
		task.CronExpression = d.cron
		task.CreatedBy = "system"
		task.CreatedAt = gate.Now()
		if err := tasks.Put(ctx, task); err != nil {
			return fmt.Errorf("scheduler: seed %s: %w", d.handler, err)
		}
	}
	return nil
}
