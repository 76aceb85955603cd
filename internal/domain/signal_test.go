package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignalDefaults(t *testing.T) {
	sig := NewSignal("nvda", DirectionBuy, "earnings beat", 0.8)

	assert.Equal(t, "NVDA", sig.Ticker)
	assert.Equal(t, SignalStatusProposed, sig.Status)
	assert.Regexp(t, `^sig_[0-9a-f]{12}$`, sig.ID)
	assert.True(t, sig.CreatedAt.IsZero())
}

func TestSignalValidate(t *testing.T) {
	sig := NewSignal("NVDA", DirectionBuy, "catalyst", 0.7)
	require.NoError(t, sig.Validate())

	bad := sig
	bad.Ticker = ""
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = sig
	bad.Direction = "maybe"
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = sig
	bad.Confidence = 1.2
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = sig
	bad.Confidence = -0.1
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestSignalTransitions(t *testing.T) {
	sig := NewSignal("NVDA", DirectionBuy, "catalyst", 0.7)

	require.NoError(t, sig.Transition(SignalStatusApproved))
	require.NoError(t, sig.Transition(SignalStatusDelivered))

	err := sig.Transition(SignalStatusApproved)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSignalRejectedIsTerminal(t *testing.T) {
	sig := NewSignal("NVDA", DirectionSell, "catalyst", 0.7)
	require.NoError(t, sig.Transition(SignalStatusRejected))

	for _, to := range []SignalStatus{SignalStatusProposed, SignalStatusApproved, SignalStatusDelivered} {
		err := sig.Transition(to)
		assert.ErrorIs(t, err, ErrInvalidTransition, "rejected -> %s should fail", to)
	}
}

func TestSignalCannotSkipApproval(t *testing.T) {
	sig := NewSignal("NVDA", DirectionBuy, "catalyst", 0.7)
	err := sig.Transition(SignalStatusDelivered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, SignalStatusProposed, sig.Status)
}

func TestAwaitingConfirmation(t *testing.T) {
	sig := NewSignal("NVDA", DirectionBuy, "catalyst", 0.7)
	assert.False(t, sig.AwaitingConfirmation())

	sig.Status = SignalStatusDelivered
	sig.ConfirmationStatus = ConfirmationPending
	assert.True(t, sig.AwaitingConfirmation())

	sig.ConfirmationStatus = ConfirmationConfirmed
	assert.False(t, sig.AwaitingConfirmation())
}

func TestRiskResultSummary(t *testing.T) {
	approved := RiskResult{
		Approved: true,
		Evaluations: []RuleEvaluation{
			{RuleName: "confidence", Passed: true},
			{RuleName: "drawdown", Passed: true},
		},
	}
	assert.Equal(t, "Approved (2 rules passed)", approved.Summary())
	assert.Empty(t, approved.FailedRules())

	rejected := RiskResult{
		Approved: false,
		Evaluations: []RuleEvaluation{
			{RuleName: "confidence", Passed: false},
			{RuleName: "frequency", Passed: true},
			{RuleName: "drawdown", Passed: false},
		},
	}
	assert.Equal(t, "Rejected (failed: confidence, drawdown)", rejected.Summary())
	assert.Len(t, rejected.FailedRules(), 2)
}
