package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tessera-trading/advisor/internal/domain"
)

// bridgedEvents are the pipeline events that surface as operator
// notifications. Everything else stays in the log only.
var bridgedEvents = []domain.EventType{
	domain.EventTypeSignalDelivered,
	domain.EventTypeSignalDeliveryFailed,
	domain.EventTypeSignalRejected,
	domain.EventTypePositionReminderSent,
	domain.EventTypePositionAssumed,
	domain.EventTypeMemoryCreated,
	domain.EventTypeAlertTriggered,
	domain.EventTypeSimulationCompleted,
}

// Bridge forwards selected pipeline events to the notifier. Send failures
// are logged by the notifier and never propagate back into the event
// dispatch path.
type Bridge struct {
	notifier *Notifier
}

// NewBridge creates a Bridge and registers it on the bus for each
// notification-worthy event type.
func NewBridge(notifier *Notifier, bus domain.EventBus) *Bridge {
	b := &Bridge{notifier: notifier}
	for _, et := range bridgedEvents {
		bus.Subscribe(et, b.handle)
	}
	return b
}

func (b *Bridge) handle(ctx context.Context, event domain.Event) error {
	_ = b.notifier.Notify(ctx, string(event.Type), titleFor(event), renderPayload(event.Payload))
	return nil
}

func titleFor(event domain.Event) string {
	switch event.Type {
	case domain.EventTypeSignalDelivered:
		return "Signal delivered"
	case domain.EventTypeSignalDeliveryFailed:
		return "Signal delivery FAILED"
	case domain.EventTypeSignalRejected:
		return "Signal rejected by risk gate"
	case domain.EventTypePositionReminderSent:
		return "Confirmation reminder"
	case domain.EventTypePositionAssumed:
		return "Position assumed executed"
	case domain.EventTypeMemoryCreated:
		return "New lesson recorded"
	case domain.EventTypeAlertTriggered:
		return "Alert"
	case domain.EventTypeSimulationCompleted:
		return "Simulation completed"
	default:
		return string(event.Type)
	}
}

// renderPayload formats an event payload as stable key: value lines so the
// same event always produces the same message text.
func renderPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, payload[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}
