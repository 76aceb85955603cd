package domain

import (
	"fmt"
	"strings"
	"time"
)

// SignalDirection is the recommended action for a ticker.
type SignalDirection string

const (
	DirectionBuy  SignalDirection = "buy"
	DirectionSell SignalDirection = "sell"
	DirectionHold SignalDirection = "hold"
)

// SignalStatus tracks a signal through the gate and delivery lifecycle.
type SignalStatus string

const (
	SignalStatusProposed  SignalStatus = "proposed"
	SignalStatusApproved  SignalStatus = "approved"
	SignalStatusRejected  SignalStatus = "rejected"
	SignalStatusDelivered SignalStatus = "delivered"
)

// ConfirmationStatus tracks whether the human acted on a delivered signal.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationSkipped   ConfirmationStatus = "skipped"
	ConfirmationAssumed   ConfirmationStatus = "assumed"
)

// signalTransitions lists the allowed status edges. Terminal states
// have no entry.
var signalTransitions = map[SignalStatus][]SignalStatus{
	SignalStatusProposed: {SignalStatusApproved, SignalStatusRejected},
	SignalStatusApproved: {SignalStatusDelivered},
}

// Signal is a trade recommendation produced by an agent and gated by
// the risk engine before delivery.
type Signal struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	Direction     SignalDirection `json:"direction"`
	Catalyst      string          `json:"catalyst"`
	Confidence    float64         `json:"confidence"`
	EntryTarget   *float64        `json:"entry_target,omitempty"`
	StopLoss      *float64        `json:"stop_loss,omitempty"`
	TakeProfit    *float64        `json:"take_profit,omitempty"`
	Horizon       string          `json:"horizon,omitempty"`
	MemoID        string          `json:"memo_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`

	Status     SignalStatus `json:"status"`
	RiskResult *RiskResult  `json:"risk_result,omitempty"`

	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	DeliveredVia   string     `json:"delivered_via,omitempty"`
	DeliveryErrors []string   `json:"delivery_errors,omitempty"`

	ConfirmationStatus         ConfirmationStatus `json:"confirmation_status,omitempty"`
	ConfirmationDueAt          *time.Time         `json:"confirmation_due_at,omitempty"`
	ConfirmationReminderSentAt *time.Time         `json:"confirmation_reminder_sent_at,omitempty"`
}

// NewSignal builds a proposed signal. CreatedAt is stamped by the
// caller so simulated runs control the clock.
func NewSignal(ticker string, direction SignalDirection, catalyst string, confidence float64) Signal {
	return Signal{
		ID:         NewID("sig"),
		Ticker:     strings.ToUpper(ticker),
		Direction:  direction,
		Catalyst:   catalyst,
		Confidence: confidence,
		Status:     SignalStatusProposed,
	}
}

// Validate checks the fields required before a signal enters the gate.
func (s Signal) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrValidation)
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
	default:
		return fmt.Errorf("%w: direction %q", ErrValidation, s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of [0,1]", ErrValidation, s.Confidence)
	}
	return nil
}

// CanTransition reports whether the status edge is allowed.
func (s Signal) CanTransition(to SignalStatus) bool {
	for _, next := range signalTransitions[s.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the signal to the new status or fails with
// ErrInvalidTransition.
func (s *Signal) Transition(to SignalStatus) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: signal %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// AwaitingConfirmation reports whether the human still owes a response.
func (s Signal) AwaitingConfirmation() bool {
	return s.Status == SignalStatusDelivered && s.ConfirmationStatus == ConfirmationPending
}

// RuleEvaluation is the outcome of one risk rule.
type RuleEvaluation struct {
	RuleName     string   `json:"rule_name"`
	Passed       bool     `json:"passed"`
	Reason       string   `json:"reason"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	LimitValue   *float64 `json:"limit_value,omitempty"`
}

// RiskResult aggregates every rule evaluation for a signal. All rules
// run even after one fails so the result is a complete report.
type RiskResult struct {
	Approved    bool             `json:"approved"`
	Evaluations []RuleEvaluation `json:"evaluations"`
}

// FailedRules returns the evaluations that did not pass.
func (r RiskResult) FailedRules() []RuleEvaluation {
	var failed []RuleEvaluation
	for _, e := range r.Evaluations {
		if !e.Passed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Summary renders a one-line description of the gate outcome.
func (r RiskResult) Summary() string {
	if r.Approved {
		return fmt.Sprintf("Approved (%d rules passed)", len(r.Evaluations))
	}
	names := make([]string, 0, len(r.Evaluations))
	for _, e := range r.FailedRules() {
		names = append(names, e.RuleName)
	}
	return fmt.Sprintf("Rejected (failed: %s)", strings.Join(names, ", "))
}
