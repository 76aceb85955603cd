// Package agent defines the analysts that turn assembled decision
// context into trade proposals. Agents only propose; the risk gate
// decides.
package agent

import (
	"context"
	"time"

	"github.com/tessera-trading/advisor/internal/domain"
)

// ContextPack is everything an agent may consider for one decision.
// Assembled by the orchestrator; never persisted. Every field is
// filtered to what was visible at AsOf, so agents cannot peek ahead.
type ContextPack struct {
	AsOf      time.Time
	Watchlist []string

	MarketSnapshot domain.MarketSnapshot

	AIPortfolio    domain.PortfolioSummary
	HumanPortfolio domain.PortfolioSummary

	TriggerEvent     *domain.Event
	RecentEvents     []domain.Event
	RelevantMemories []domain.Memory
}

// Output is one agent's verdict on the context.
type Output struct {
	AgentName  string
	Analysis   string
	Confidence float64
	KeyFactors []string

	// Proposal is a fully-formed signal the agent wants gated, or nil
	// when the agent sees nothing actionable.
	Proposal *domain.Signal
}

// Agent analyzes a context pack and optionally proposes a signal.
type Agent interface {
	Name() string
	Description() string
	Analyze(ctx context.Context, pack ContextPack) (Output, error)
}
