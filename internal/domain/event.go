package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing through the pipeline.
type EventType string

const (
	EventTypeIntegrationInput  EventType = "integration.input"
	EventTypeIntegrationOutput EventType = "integration.output"
	EventTypeScheduleFired     EventType = "schedule.fired"
	EventTypeContextAssembled  EventType = "context.assembled"
	EventTypeMemoCreated       EventType = "memo.created"

	EventTypeSignalProposed       EventType = "signal.proposed"
	EventTypeSignalApproved       EventType = "signal.approved"
	EventTypeSignalRejected       EventType = "signal.rejected"
	EventTypeSignalDelivered      EventType = "signal.delivered"
	EventTypeSignalDeliveryFailed EventType = "signal.delivery_failed"

	EventTypePositionOpened       EventType = "position.opened"
	EventTypePositionConfirmed    EventType = "position.confirmed"
	EventTypePositionAssumed      EventType = "position.assumed"
	EventTypePositionSkipped      EventType = "position.skipped"
	EventTypePositionUpdated      EventType = "position.updated"
	EventTypePositionClosed       EventType = "position.closed"
	EventTypePositionReminderSent EventType = "position.reminder_sent"

	EventTypeTaskCreated   EventType = "task.created"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"

	EventTypeMemoryCreated  EventType = "memory.created"
	EventTypeAlertTriggered EventType = "alert.triggered"

	EventTypeSimulationStarted   EventType = "simulation.started"
	EventTypeSimulationCompleted EventType = "simulation.completed"

	EventTypeMarketData       EventType = "market.data"
	EventTypeTimeTick         EventType = "time.tick"
	EventTypeArchiveCompleted EventType = "archive.completed"
)

// Event is the unit of record for everything the system does.
// Events are append-only; related events share a correlation ID so a
// decision can be traced from trigger to outcome.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an event with a fresh ID and correlation ID.
// Timestamp is left zero; the event log stamps it at append time so
// simulated runs never pick up wall-clock values.
func NewEvent(typ EventType, source string, payload map[string]any) Event {
	return Event{
		ID:            NewID("evt"),
		Type:          typ,
		CorrelationID: shortHex(),
		Source:        source,
		Payload:       payload,
	}
}

// Derive creates a follow-up event that keeps the parent's correlation ID.
func (e Event) Derive(typ EventType, source string, payload map[string]any) Event {
	return Event{
		ID:            NewID("evt"),
		Type:          typ,
		CorrelationID: e.CorrelationID,
		Source:        source,
		Payload:       payload,
	}
}

// NewID returns a prefixed short identifier, e.g. "sig_3fa85f642b88".
func NewID(prefix string) string {
	return prefix + "_" + shortHex()
}

// NewCorrelationID returns a fresh unprefixed correlation ID.
func NewCorrelationID() string {
	return shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
