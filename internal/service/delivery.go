package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/notify"
)

// Deliverer hands an approved signal to the human through one channel.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, signal domain.Signal) error
}

// DeliveryService subscribes to approved signals and pushes them
// through every configured deliverer. One success is enough to mark the
// signal delivered and start the confirmation clock; when every channel
// fails the signal stays approved with the errors recorded, so a later
// retry or manual delivery can still pick it up.
type DeliveryService struct {
	signals    domain.SignalStore
	bus        domain.EventBus
	gate       clock.Gate
	deliverers []Deliverer
	timeout    time.Duration
	locks      *Locks
	logger     *slog.Logger
}

// NewDeliveryService creates a DeliveryService and registers it on the
// bus for signal.approved events.
func NewDeliveryService(
	signals domain.SignalStore,
	bus domain.EventBus,
	gate clock.Gate,
	deliverers []Deliverer,
	confirmationTimeout time.Duration,
	locks *Locks,
	logger *slog.Logger,
) *DeliveryService {
	s := &DeliveryService{
		signals:    signals,
		bus:        bus,
		gate:       gate,
		deliverers: deliverers,
		timeout:    confirmationTimeout,
		locks:      locks,
		logger:     logger.With(slog.String("component", "delivery")),
	}
	bus.Subscribe(domain.EventTypeSignalApproved, s.handleApproved)
	return s
}

func (s *DeliveryService) handleApproved(ctx context.Context, event domain.Event) error {
	var signal domain.Signal
	if err := fromPayload(event.Payload, &signal); err != nil {
		return fmt.Errorf("service: parse approved signal: %w", err)
	}
	_, err := s.Deliver(ctx, signal.ID)
	return err
}

// Deliver pushes one approved signal through every channel and records
// the outcome. It is idempotent: an already-delivered signal returns
// unchanged.
func (s *DeliveryService) Deliver(ctx context.Context, signalID string) (domain.Signal, error) {
	unlock := s.locks.Lock("signal:" + signalID)
	defer unlock()

	signal, err := s.signals.Get(ctx, signalID)
	if err != nil {
		return domain.Signal{}, err
	}
	if signal.Status == domain.SignalStatusDelivered {
		return signal, nil
	}
	if signal.Status != domain.SignalStatusApproved {
		return domain.Signal{}, fmt.Errorf("%w: signal %s is %s, want approved",
			domain.ErrInvalidTransition, signalID, signal.Status)
	}

	var successes, errs []string
	for _, d := range s.deliverers {
		if err := d.Deliver(ctx, signal); err != nil {
			s.logger.ErrorContext(ctx, "delivery channel failed",
				slog.String("channel", d.Name()),
				slog.String("signal_id", signal.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", d.Name(), err))
			continue
		}
		successes = append(successes, d.Name())
	}

	if len(successes) == 0 {
		if len(errs) == 0 {
			errs = []string{"no delivery channels configured"}
		}
		signal.DeliveryErrors = errs
		if err := s.signals.Put(ctx, signal); err != nil {
			return domain.Signal{}, fmt.Errorf("service: persist delivery failure: %w", err)
		}

		ev := signalEvent(domain.EventTypeSignalDeliveryFailed, "delivery", signal)
		ev.Payload["errors"] = errs
		if _, err := s.bus.Publish(ctx, ev); err != nil {
			return domain.Signal{}, fmt.Errorf("service: publish delivery failure: %w", err)
		}
		return signal, fmt.Errorf("%w: signal %s failed on all channels", domain.ErrDeliveryFailed, signal.ID)
	}

	now := s.gate.Now()
	due := now.Add(s.timeout)
	sort.Strings(successes)

	if err := signal.Transition(domain.SignalStatusDelivered); err != nil {
		return domain.Signal{}, err
	}
	signal.DeliveredAt = &now
	signal.DeliveredVia = strings.Join(successes, ", ")
	signal.ConfirmationStatus = domain.ConfirmationPending
	signal.ConfirmationDueAt = &due
	signal.ConfirmationReminderSentAt = nil
	signal.DeliveryErrors = errs

	if err := s.signals.Put(ctx, signal); err != nil {
		return domain.Signal{}, fmt.Errorf("service: persist delivered signal: %w", err)
	}
	if _, err := s.bus.Publish(ctx, signalEvent(domain.EventTypeSignalDelivered, "delivery", signal)); err != nil {
		return domain.Signal{}, fmt.Errorf("service: publish delivered: %w", err)
	}

	s.logger.InfoContext(ctx, "signal delivered",
		slog.String("signal_id", signal.ID),
		slog.String("via", signal.DeliveredVia),
		slog.Time("confirmation_due", due),
	)
	return signal, nil
}

// RetryStuck re-attempts delivery of signals left approved after every
// channel failed. Signals are retried independently; a channel that is
// still down only counts that signal as failed.
func (s *DeliveryService) RetryStuck(ctx context.Context) (delivered, failed int, err error) {
	signals, err := s.signals.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, 0, fmt.Errorf("service: list for delivery retry: %w", err)
	}
	for _, sig := range signals {
		if sig.Status != domain.SignalStatusApproved || len(sig.DeliveryErrors) == 0 {
			continue
		}
		if _, err := s.Deliver(ctx, sig.ID); err != nil {
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed, nil
}

// fromPayload unmarshals an event payload back into a typed record.
func fromPayload(payload map[string]any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// ---------------------------------------------------------------------------
// deliverers
// ---------------------------------------------------------------------------

// csvHeader is written once when the outbox file is created.
var csvHeader = []string{
	"delivered_at", "signal_id", "ticker", "direction", "confidence",
	"entry_target", "stop_loss", "take_profit", "horizon", "catalyst",
}

// CSVOutbox appends delivered signals to a CSV file the user watches.
type CSVOutbox struct {
	mu   sync.Mutex
	path string
	gate clock.Gate
}

// NewCSVOutbox creates a CSVOutbox writing to path.
func NewCSVOutbox(path string, gate clock.Gate) *CSVOutbox {
	return &CSVOutbox{path: path, gate: gate}
}

var _ Deliverer = (*CSVOutbox)(nil)

func (o *CSVOutbox) Name() string { return "csv_outbox" }

// Deliver appends one row, creating the file with a header on first use.
func (o *CSVOutbox) Deliver(ctx context.Context, signal domain.Signal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("csv outbox: mkdir: %w", err)
	}

	_, statErr := os.Stat(o.path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("csv outbox: open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("csv outbox: write header: %w", err)
		}
	}

	row := []string{
		o.gate.Now().Format(time.RFC3339),
		signal.ID,
		signal.Ticker,
		string(signal.Direction),
		strconv.FormatFloat(signal.Confidence, 'f', 2, 64),
		formatOptional(signal.EntryTarget),
		formatOptional(signal.StopLoss),
		formatOptional(signal.TakeProfit),
		signal.Horizon,
		signal.Catalyst,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("csv outbox: write row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv outbox: flush: %w", err)
	}
	return f.Sync()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// NotifierDeliverer pushes signals through the notification channels
// (Telegram, Discord) regardless of the notifier's event filter.
type NotifierDeliverer struct {
	notifier *notify.Notifier
}

// NewNotifierDeliverer creates a NotifierDeliverer.
func NewNotifierDeliverer(notifier *notify.Notifier) *NotifierDeliverer {
	return &NotifierDeliverer{notifier: notifier}
}

var _ Deliverer = (*NotifierDeliverer)(nil)

func (d *NotifierDeliverer) Name() string { return "notifier" }

func (d *NotifierDeliverer) Deliver(ctx context.Context, signal domain.Signal) error {
	title := fmt.Sprintf("Trade signal: %s %s", strings.ToUpper(string(signal.Direction)), signal.Ticker)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Confidence: %.0f%%\n", signal.Confidence*100)
	if signal.EntryTarget != nil {
		fmt.Fprintf(&sb, "Entry: %.2f\n", *signal.EntryTarget)
	}
	if signal.StopLoss != nil {
		fmt.Fprintf(&sb, "Stop: %.2f\n", *signal.StopLoss)
	}
	if signal.TakeProfit != nil {
		fmt.Fprintf(&sb, "Target: %.2f\n", *signal.TakeProfit)
	}
	if signal.Horizon != "" {
		fmt.Fprintf(&sb, "Horizon: %s\n", signal.Horizon)
	}
	if signal.Catalyst != "" {
		fmt.Fprintf(&sb, "Catalyst: %s\n", signal.Catalyst)
	}
	fmt.Fprintf(&sb, "Reply: confirm %s <entry_price> <quantity> or skip %s", signal.ID, signal.ID)

	return d.notifier.NotifyAll(ctx, title, sb.String())
}
