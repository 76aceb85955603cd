package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
)

// PositionMonitor keeps both books current: it advances freshly
// confirmed or assumed positions into monitoring, refreshes unrealized
// P&L from the latest visible quotes, and runs exit checks against each
// paper position's originating signal. A stop or target crossing closes
// the paper position at that level; the human book is never closed
// automatically, only flagged.
type PositionMonitor struct {
	positions domain.PositionStore
	signals   domain.SignalStore
	tracker   *portfolio.Tracker
	bus       domain.EventBus
	gate      clock.Gate
	locks     *Locks
	interval  time.Duration
	logger    *slog.Logger
}

// NewPositionMonitor creates a PositionMonitor.
func NewPositionMonitor(
	positions domain.PositionStore,
	signals domain.SignalStore,
	tracker *portfolio.Tracker,
	bus domain.EventBus,
	gate clock.Gate,
	locks *Locks,
	interval time.Duration,
	logger *slog.Logger,
) *PositionMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PositionMonitor{
		positions: positions,
		signals:   signals,
		tracker:   tracker,
		bus:       bus,
		gate:      gate,
		locks:     locks,
		interval:  interval,
		logger:    logger.With(slog.String("component", "position_monitor")),
	}
}

// Run sweeps on a fixed interval until the context is canceled. Sweep
// errors are logged and the loop keeps going.
func (m *PositionMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.ErrorContext(ctx, "monitor sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep runs one full monitoring pass over both portfolios.
func (m *PositionMonitor) Sweep(ctx context.Context) error {
	for _, book := range []domain.PortfolioType{domain.PortfolioAI, domain.PortfolioHuman} {
		if _, err := m.tracker.BeginMonitoring(ctx, book); err != nil {
			return err
		}
		if _, err := m.tracker.MarkToMarket(ctx, book); err != nil {
			return err
		}
	}
	return m.checkExits(ctx)
}

// checkExits compares every monitoring paper position against its
// signal's stop and target.
func (m *PositionMonitor) checkExits(ctx context.Context) error {
	open, err := m.positions.List(ctx, domain.PortfolioAI)
	if err != nil {
		return fmt.Errorf("service: monitor list: %w", err)
	}

	for _, pos := range open {
		if pos.Status != domain.PositionStatusMonitoring || pos.SignalID == "" {
			continue
		}
		if err := m.checkExit(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *PositionMonitor) checkExit(ctx context.Context, stale domain.Position) error {
	unlock := m.locks.Lock("position:ai:" + stale.Ticker)
	defer unlock()

	pos, err := m.positions.Get(ctx, domain.PortfolioAI, stale.Ticker)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusMonitoring || pos.CurrentPrice == nil {
		return nil
	}

	signal, err := m.signals.Get(ctx, pos.SignalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	price := *pos.CurrentPrice
	exitPrice, reason := exitLevel(pos, signal, price)
	if reason == "" {
		return nil
	}

	if err := pos.Transition(domain.PositionStatusExitSignaled); err != nil {
		return err
	}
	if err := m.positions.Put(ctx, pos); err != nil {
		return fmt.Errorf("service: persist exit signal: %w", err)
	}

	ev := positionEvent(domain.EventTypePositionUpdated, "position_monitor", signal.CorrelationID, pos)
	ev.Payload["exit_reason"] = reason
	ev.Payload["exit_price"] = exitPrice
	if _, err := m.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("service: publish exit signal: %w", err)
	}

	if err := pos.Transition(domain.PositionStatusClosed); err != nil {
		return err
	}
	pos.ApplyClose(exitPrice, m.gate.Now())
	if err := m.positions.Put(ctx, pos); err != nil {
		return fmt.Errorf("service: persist paper close: %w", err)
	}

	closed := positionEvent(domain.EventTypePositionClosed, "position_monitor", signal.CorrelationID, pos)
	closed.Payload["exit_reason"] = reason
	if _, err := m.bus.Publish(ctx, closed); err != nil {
		return fmt.Errorf("service: publish paper close: %w", err)
	}

	// The human may still be holding: tell them why the paper book left.
	alert := domain.NewEvent(domain.EventTypeAlertTriggered, "position_monitor", map[string]any{
		"level":     "info",
		"ticker":    pos.Ticker,
		"signal_id": signal.ID,
		"message":   fmt.Sprintf("Paper book exited %s at %.2f (%s)", pos.Ticker, exitPrice, reason),
	})
	alert.CorrelationID = signal.CorrelationID
	if _, err := m.bus.Publish(ctx, alert); err != nil {
		return fmt.Errorf("service: publish exit alert: %w", err)
	}

	m.logger.InfoContext(ctx, "paper position exited",
		slog.String("ticker", pos.Ticker),
		slog.String("reason", reason),
		slog.Float64("exit_price", exitPrice),
	)
	return nil
}

// exitLevel reports the price and reason a monitoring position should
// exit at, or "" when neither level is crossed. Stops are checked
// before targets: on a bar that crosses both, the conservative read is
// the stop filled first.
func exitLevel(pos domain.Position, signal domain.Signal, price float64) (float64, string) {
	if pos.Direction == domain.PositionLong {
		if signal.StopLoss != nil && price <= *signal.StopLoss {
			return *signal.StopLoss, "stop_loss"
		}
		if signal.TakeProfit != nil && price >= *signal.TakeProfit {
			return *signal.TakeProfit, "take_profit"
		}
		return 0, ""
	}

	if signal.StopLoss != nil && price >= *signal.StopLoss {
		return *signal.StopLoss, "stop_loss"
	}
	if signal.TakeProfit != nil && price <= *signal.TakeProfit {
		return *signal.TakeProfit, "take_profit"
	}
	return 0, ""
}
