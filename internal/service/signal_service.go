package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
	"github.com/tessera-trading/advisor/internal/risk"
)

// ApprovedCounter reports how many events of a type the log already
// holds for a day. The frequency rule feeds on it.
type ApprovedCounter interface {
	CountOnDay(ctx context.Context, day time.Time, eventType domain.EventType) (int, error)
}

// SignalService owns the signal lifecycle from proposal through the
// risk gate. Delivery picks up approved signals via the event bus.
type SignalService struct {
	signals domain.SignalStore
	tracker *portfolio.Tracker
	engine  *risk.Engine
	bus     domain.EventBus
	counter ApprovedCounter
	gate    clock.Gate
	locks   *Locks
	logger  *slog.Logger
}

// NewSignalService creates a SignalService.
func NewSignalService(
	signals domain.SignalStore,
	tracker *portfolio.Tracker,
	engine *risk.Engine,
	bus domain.EventBus,
	counter ApprovedCounter,
	gate clock.Gate,
	locks *Locks,
	logger *slog.Logger,
) *SignalService {
	return &SignalService{
		signals: signals,
		tracker: tracker,
		engine:  engine,
		bus:     bus,
		counter: counter,
		gate:    gate,
		locks:   locks,
		logger:  logger.With(slog.String("component", "signal_service")),
	}
}

// OpenPotentialPosition runs a proposed signal through the full intake:
// validate, record the proposal, gate it, and on approval open the
// paper position. The gate runs synchronously -- no caller ever
// observes the signal approved before the verdict is recorded.
func (s *SignalService) OpenPotentialPosition(ctx context.Context, signal domain.Signal) (domain.Signal, error) {
	if err := signal.Validate(); err != nil {
		return domain.Signal{}, err
	}
	if signal.Status != domain.SignalStatusProposed {
		return domain.Signal{}, fmt.Errorf("%w: signal %s arrived as %s, want proposed",
			domain.ErrValidation, signal.ID, signal.Status)
	}

	now := s.gate.Now()
	signal.CreatedAt = now
	if signal.CorrelationID == "" {
		signal.CorrelationID = domain.NewEvent(domain.EventTypeSignalProposed, "", nil).CorrelationID
	}

	unlock := s.locks.Lock("signal:" + signal.ID)
	defer unlock()

	if err := s.signals.Put(ctx, signal); err != nil {
		return domain.Signal{}, fmt.Errorf("service: persist proposed signal: %w", err)
	}
	if _, err := s.bus.Publish(ctx, signalEvent(domain.EventTypeSignalProposed, "signal_service", signal)); err != nil {
		return domain.Signal{}, fmt.Errorf("service: publish proposed: %w", err)
	}

	// Gate inputs: current paper book plus today's approval count.
	summary, err := s.tracker.Summary(ctx, domain.PortfolioAI)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("service: gate inputs: %w", err)
	}
	approvedToday, err := s.counter.CountOnDay(ctx, now, domain.EventTypeSignalApproved)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("service: gate inputs: %w", err)
	}

	result := s.engine.Evaluate(risk.Input{
		Signal:        signal,
		Portfolio:     summary,
		ApprovedToday: approvedToday,
	})
	signal.RiskResult = &result

	if !result.Approved {
		if err := signal.Transition(domain.SignalStatusRejected); err != nil {
			return domain.Signal{}, err
		}
		if err := s.signals.Put(ctx, signal); err != nil {
			return domain.Signal{}, fmt.Errorf("service: persist rejected signal: %w", err)
		}
		if _, err := s.bus.Publish(ctx, signalEvent(domain.EventTypeSignalRejected, "risk_engine", signal)); err != nil {
			return domain.Signal{}, fmt.Errorf("service: publish rejected: %w", err)
		}

		s.logger.InfoContext(ctx, "signal rejected",
			slog.String("signal_id", signal.ID),
			slog.String("ticker", signal.Ticker),
			slog.String("summary", result.Summary()),
		)
		return signal, nil
	}

	if err := signal.Transition(domain.SignalStatusApproved); err != nil {
		return domain.Signal{}, err
	}
	if err := s.signals.Put(ctx, signal); err != nil {
		return domain.Signal{}, fmt.Errorf("service: persist approved signal: %w", err)
	}

	// The paper book takes every approved signal unconditionally.
	if _, err := s.tracker.OpenPaper(ctx, signal); err != nil {
		return domain.Signal{}, err
	}

	// The bus dispatches subscribers on this goroutine, and delivery
	// re-takes the same signal lock. The approved record is already
	// persisted, so release before publishing.
	unlock()
	if _, err := s.bus.Publish(ctx, signalEvent(domain.EventTypeSignalApproved, "risk_engine", signal)); err != nil {
		return domain.Signal{}, fmt.Errorf("service: publish approved: %w", err)
	}

	s.logger.InfoContext(ctx, "signal approved",
		slog.String("signal_id", signal.ID),
		slog.String("ticker", signal.Ticker),
		slog.String("direction", string(signal.Direction)),
		slog.Float64("confidence", signal.Confidence),
	)

	// Delivery subscribes to signal.approved; reload so the caller sees
	// any delivery state recorded during dispatch.
	final, err := s.signals.Get(ctx, signal.ID)
	if err != nil {
		return signal, nil
	}
	return final, nil
}

// Confirm records that the user took the trade a delivered signal
// proposed. entryPrice and quantity are the user's actual fill.
func (s *SignalService) Confirm(ctx context.Context, signalID string, entryPrice, quantity float64, via, notes string) (domain.Position, error) {
	if entryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("%w: entry price must be positive", domain.ErrValidation)
	}
	if quantity <= 0 {
		return domain.Position{}, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	unlock := s.locks.Lock("signal:" + signalID)
	defer unlock()

	signal, err := s.signals.Get(ctx, signalID)
	if err != nil {
		return domain.Position{}, err
	}
	if !signal.AwaitingConfirmation() {
		return domain.Position{}, fmt.Errorf("%w: signal %s is %s/%s, not awaiting confirmation",
			domain.ErrInvalidTransition, signalID, signal.Status, signal.ConfirmationStatus)
	}

	signal.ConfirmationStatus = domain.ConfirmationConfirmed
	if err := s.signals.Put(ctx, signal); err != nil {
		return domain.Position{}, fmt.Errorf("service: persist confirmation: %w", err)
	}

	pos, err := s.tracker.ConfirmHuman(ctx, signal, entryPrice, &quantity, via, notes)
	if err != nil {
		return domain.Position{}, err
	}

	if _, err := s.bus.Publish(ctx, positionEvent(domain.EventTypePositionConfirmed, "signal_service", signal.CorrelationID, pos)); err != nil {
		return domain.Position{}, fmt.Errorf("service: publish confirmed: %w", err)
	}
	return pos, nil
}

// Skip records that the user explicitly declined a delivered signal.
func (s *SignalService) Skip(ctx context.Context, signalID, via, notes string) (domain.Position, error) {
	unlock := s.locks.Lock("signal:" + signalID)
	defer unlock()

	signal, err := s.signals.Get(ctx, signalID)
	if err != nil {
		return domain.Position{}, err
	}
	if !signal.AwaitingConfirmation() {
		return domain.Position{}, fmt.Errorf("%w: signal %s is %s/%s, not awaiting confirmation",
			domain.ErrInvalidTransition, signalID, signal.Status, signal.ConfirmationStatus)
	}

	signal.ConfirmationStatus = domain.ConfirmationSkipped
	if err := s.signals.Put(ctx, signal); err != nil {
		return domain.Position{}, fmt.Errorf("service: persist skip: %w", err)
	}

	pos, err := s.tracker.SkipHuman(ctx, signal, via, notes)
	if err != nil {
		return domain.Position{}, err
	}

	if _, err := s.bus.Publish(ctx, positionEvent(domain.EventTypePositionSkipped, "signal_service", signal.CorrelationID, pos)); err != nil {
		return domain.Position{}, fmt.Errorf("service: publish skipped: %w", err)
	}
	return pos, nil
}

// ReportClose records that the user exited a position at the given
// price, and mirrors a paper-book exit when the paper book holds the
// same ticker.
func (s *SignalService) ReportClose(ctx context.Context, ticker string, closePrice float64, via string) (domain.Position, error) {
	if closePrice <= 0 {
		return domain.Position{}, fmt.Errorf("%w: close price must be positive", domain.ErrValidation)
	}

	unlock := s.locks.Lock("position:human:" + strings.ToUpper(ticker))
	defer unlock()

	pos, err := s.tracker.CloseHuman(ctx, ticker, closePrice, via)
	if err != nil {
		return domain.Position{}, err
	}

	if _, err := s.bus.Publish(ctx, positionEvent(domain.EventTypePositionClosed, "signal_service", "", pos)); err != nil {
		return domain.Position{}, fmt.Errorf("service: publish closed: %w", err)
	}
	return pos, nil
}

// ReportTrade records a trade the user took without any signal. These
// entries are the seed of human_initiated divergences.
func (s *SignalService) ReportTrade(ctx context.Context, ticker string, direction domain.PositionDirection, entryPrice float64, size *float64, via, notes string) (domain.Position, error) {
	if entryPrice <= 0 {
		return domain.Position{}, fmt.Errorf("%w: entry price must be positive", domain.ErrValidation)
	}
	switch direction {
	case domain.PositionLong, domain.PositionShort:
	default:
		return domain.Position{}, fmt.Errorf("%w: direction %q", domain.ErrValidation, direction)
	}

	unlock := s.locks.Lock("position:human:" + strings.ToUpper(ticker))
	defer unlock()

	pos, err := s.tracker.RecordHumanTrade(ctx, ticker, direction, entryPrice, size, via, notes)
	if err != nil {
		return domain.Position{}, err
	}

	if _, err := s.bus.Publish(ctx, positionEvent(domain.EventTypePositionOpened, "signal_service", "", pos)); err != nil {
		return domain.Position{}, fmt.Errorf("service: publish opened: %w", err)
	}
	return pos, nil
}

// signalEvent wraps a signal into an event on the signal's correlation
// chain.
func signalEvent(typ domain.EventType, source string, signal domain.Signal) domain.Event {
	ev := domain.NewEvent(typ, source, toPayload(signal))
	if signal.CorrelationID != "" {
		ev.CorrelationID = signal.CorrelationID
	}
	return ev
}

// positionEvent wraps a position into an event, keeping the signal's
// correlation chain when one exists.
func positionEvent(typ domain.EventType, source, correlationID string, pos domain.Position) domain.Event {
	ev := domain.NewEvent(typ, source, toPayload(pos))
	if correlationID != "" {
		ev.CorrelationID = correlationID
	}
	return ev
}

// toPayload flattens any JSON-marshalable value into an event payload.
func toPayload(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	return out
}
