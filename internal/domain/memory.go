package domain

import "time"

// DivergenceType classifies how the AI and human portfolios differed.
type DivergenceType string

const (
	DivergenceHumanSkipped   DivergenceType = "human_skipped"
	DivergenceHumanInitiated DivergenceType = "human_initiated"
	DivergenceTiming         DivergenceType = "timing_divergence"
	DivergenceHumanModified  DivergenceType = "human_modified"
)

// Verdict says whose judgement a divergence vindicated.
type Verdict string

const (
	VerdictAI      Verdict = "ai"
	VerdictHuman   Verdict = "human"
	VerdictBoth    Verdict = "both"
	VerdictNeither Verdict = "neither"
)

// MemorySource distinguishes live lessons from simulated ones.
const (
	MemorySourceProduction = "production"
	MemorySourceSimulation = "simulation"
)

// Memory is a lesson learned from a portfolio divergence. Memories
// feed back into future decision context.
type Memory struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	SignalID       string         `json:"signal_id,omitempty"`
	DivergenceType DivergenceType `json:"divergence_type"`
	AIAction       string         `json:"ai_action"`
	HumanAction    string         `json:"human_action"`
	// OutcomePeriod is how long the divergence was allowed to play out
	// before judgement; Outcome is a human-readable summary of what the
	// ticker actually did over that window.
	OutcomePeriod time.Duration `json:"outcome_period"`
	Outcome       string        `json:"outcome"`
	AIPnL         *float64      `json:"ai_pnl,omitempty"`
	HumanPnL      *float64      `json:"human_pnl,omitempty"`

	WhoWasRight Verdict  `json:"who_was_right"`
	Lesson      string   `json:"lesson"`
	Tags        []string `json:"tags"`

	// ConfidenceImpact nudges future confidence in similar setups,
	// clamped to [-0.1, 0.1].
	ConfidenceImpact float64 `json:"confidence_impact"`

	Source                string `json:"source"`
	ReferencedInDecisions int    `json:"referenced_in_decisions"`
}

// NewMemory builds a memory with a fresh ID. CreatedAt is stamped by
// the caller.
func NewMemory(divergence DivergenceType, signalID string) Memory {
	return Memory{
		ID:             NewID("mem"),
		SignalID:       signalID,
		DivergenceType: divergence,
		Source:         MemorySourceProduction,
	}
}

// ClampConfidenceImpact bounds the impact to the allowed range.
func ClampConfidenceImpact(v float64) float64 {
	if v > 0.1 {
		return 0.1
	}
	if v < -0.1 {
		return -0.1
	}
	return v
}
