package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
)

// ConfirmationWatcher tracks delivered signals the human has not
// answered. Each one gets exactly one reminder when the confirmation
// comes due; after one more timeout with no response the signal flips
// to assumed and a monitoring human position is recorded with an empty
// ConfirmedVia, since nobody actually told us it was taken.
//
// The watcher shares per-signal locks with SignalService and re-checks
// state under the lock, so a confirm or skip racing a timeout always
// wins: exactly one of confirmed or assumed results, never both.
type ConfirmationWatcher struct {
	signals  domain.SignalStore
	tracker  *portfolio.Tracker
	bus      domain.EventBus
	gate     clock.Gate
	timeout  time.Duration
	interval time.Duration
	locks    *Locks
	logger   *slog.Logger
}

// NewConfirmationWatcher creates a ConfirmationWatcher.
func NewConfirmationWatcher(
	signals domain.SignalStore,
	tracker *portfolio.Tracker,
	bus domain.EventBus,
	gate clock.Gate,
	timeout, checkInterval time.Duration,
	locks *Locks,
	logger *slog.Logger,
) *ConfirmationWatcher {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	return &ConfirmationWatcher{
		signals:  signals,
		tracker:  tracker,
		bus:      bus,
		gate:     gate,
		timeout:  timeout,
		interval: checkInterval,
		locks:    locks,
		logger:   logger.With(slog.String("component", "confirmation_watcher")),
	}
}

// Run scans periodically until the context is cancelled. Scan failures
// are logged and do not stop the loop.
func (w *ConfirmationWatcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "confirmation watcher started",
		slog.Duration("check_interval", w.interval),
		slog.Duration("timeout", w.timeout),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "confirmation watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Scan(ctx); err != nil {
				w.logger.ErrorContext(ctx, "confirmation scan failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Scan processes every signal still awaiting confirmation once. It
// returns the number of signals it acted on. Simulations and the
// scheduler call this directly instead of Run.
func (w *ConfirmationWatcher) Scan(ctx context.Context) (int, error) {
	pending, err := w.signals.ListAwaitingConfirmation(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: list pending confirmations: %w", err)
	}

	acted := 0
	for _, stale := range pending {
		changed, err := w.process(ctx, stale.ID)
		if err != nil {
			return acted, err
		}
		if changed {
			acted++
		}
	}
	return acted, nil
}

func (w *ConfirmationWatcher) process(ctx context.Context, signalID string) (bool, error) {
	unlock := w.locks.Lock("signal:" + signalID)
	defer unlock()

	// Reload under the lock: an explicit confirm or skip may have
	// landed since the listing.
	signal, err := w.signals.Get(ctx, signalID)
	if err != nil {
		return false, err
	}
	if !signal.AwaitingConfirmation() {
		return false, nil
	}
	if signal.ConfirmationDueAt == nil {
		return false, nil
	}

	now := w.gate.Now()

	if signal.ConfirmationReminderSentAt == nil {
		if now.Before(*signal.ConfirmationDueAt) {
			return false, nil
		}
		return true, w.sendReminder(ctx, signal, now)
	}

	if now.Before(signal.ConfirmationReminderSentAt.Add(w.timeout)) {
		return false, nil
	}
	return true, w.assume(ctx, signal)
}

func (w *ConfirmationWatcher) sendReminder(ctx context.Context, signal domain.Signal, now time.Time) error {
	signal.ConfirmationReminderSentAt = &now
	if err := w.signals.Put(ctx, signal); err != nil {
		return fmt.Errorf("service: persist reminder: %w", err)
	}

	ev := signalEvent(domain.EventTypePositionReminderSent, "confirmation_watcher", signal)
	ev.Payload["reminder"] = fmt.Sprintf(
		"Signal confirmation pending: %s %s (signal_id=%s). Confirm with entry price and quantity, or skip.",
		signal.Direction, signal.Ticker, signal.ID,
	)
	if _, err := w.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("service: publish reminder: %w", err)
	}

	w.logger.InfoContext(ctx, "confirmation reminder sent",
		slog.String("signal_id", signal.ID),
		slog.String("ticker", signal.Ticker),
	)
	return nil
}

func (w *ConfirmationWatcher) assume(ctx context.Context, signal domain.Signal) error {
	signal.ConfirmationStatus = domain.ConfirmationAssumed
	if err := w.signals.Put(ctx, signal); err != nil {
		return fmt.Errorf("service: persist assumed: %w", err)
	}

	pos, err := w.tracker.AssumeHuman(ctx, signal)
	if err != nil {
		return err
	}

	if _, err := w.bus.Publish(ctx, positionEvent(domain.EventTypePositionAssumed, "confirmation_watcher", signal.CorrelationID, pos)); err != nil {
		return fmt.Errorf("service: publish assumed: %w", err)
	}

	w.logger.InfoContext(ctx, "unanswered signal assumed executed",
		slog.String("signal_id", signal.ID),
		slog.String("ticker", signal.Ticker),
	)
	return nil
}
