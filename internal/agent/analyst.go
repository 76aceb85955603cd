package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/llm"
)

const analystSystemPrompt = `You are a senior equity analyst advising a single discretionary trader.

You receive a snapshot of market prices, both portfolios (the model's paper book and the trader's real book), recent pipeline events, and lessons learned from past divergences between the two books.

Weigh the lessons heavily: they encode where the trader and the model have disagreed before and who turned out to be right.

If you see an actionable setup on a watchlist ticker, propose exactly one trade. If nothing is actionable, say so.

Respond in JSON format:
{
    "analysis": "Your assessment (2-3 paragraphs)",
    "confidence": 0.0-1.0,
    "actionable": true | false,
    "ticker": "TICKER",
    "direction": "buy" | "sell" | "hold",
    "catalyst": "one sentence on what drives the trade",
    "entry_target": 123.45,
    "stop_loss": 118.00,
    "take_profit": 140.00,
    "horizon": "2w",
    "key_factors": ["factor1", "factor2"]
}`

// Analyst is the LLM-backed agent. It renders the context pack into a
// prompt, asks the provider for an assessment, and parses the JSON
// reply into an optional proposal.
type Analyst struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewAnalyst creates an Analyst over the given provider.
func NewAnalyst(provider llm.Provider, logger *slog.Logger) *Analyst {
	return &Analyst{
		provider: provider,
		logger:   logger.With(slog.String("component", "analyst")),
	}
}

var _ Agent = (*Analyst)(nil)

func (a *Analyst) Name() string { return "analyst" }

func (a *Analyst) Description() string {
	return "Analyst: LLM assessment of watchlist setups, informed by divergence lessons"
}

// Analyze sends the rendered context to the model and parses its reply.
// A reply that is not valid JSON degrades to a non-actionable analysis
// rather than an error.
func (a *Analyst) Analyze(ctx context.Context, pack ContextPack) (Output, error) {
	reply, err := a.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: analystSystemPrompt},
		{Role: llm.RoleUser, Content: a.buildPrompt(pack)},
	})
	if err != nil {
		return Output{}, fmt.Errorf("agent: analyst: %w", err)
	}

	return a.parseReply(ctx, pack, reply), nil
}

func (a *Analyst) buildPrompt(pack ContextPack) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Current time: %s", pack.AsOf.Format("2006-01-02 15:04 MST")))
	parts = append(parts, fmt.Sprintf("Watchlist: %s", strings.Join(pack.Watchlist, ", ")))

	if len(pack.MarketSnapshot.Prices) > 0 {
		parts = append(parts, "\nMarket prices:")
		tickers := make([]string, 0, len(pack.MarketSnapshot.Prices))
		for t := range pack.MarketSnapshot.Prices {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			parts = append(parts, fmt.Sprintf("  %s: %.2f", t, pack.MarketSnapshot.Prices[t]))
		}
	}
	if pack.MarketSnapshot.VIX != nil {
		parts = append(parts, fmt.Sprintf("\nVIX: %.2f", *pack.MarketSnapshot.VIX))
	}

	parts = append(parts, renderPortfolio("Paper portfolio", pack.AIPortfolio))
	parts = append(parts, renderPortfolio("Trader portfolio", pack.HumanPortfolio))

	if len(pack.RecentEvents) > 0 {
		parts = append(parts, fmt.Sprintf("\nRecent events (%d):", len(pack.RecentEvents)))
		for i, event := range pack.RecentEvents {
			if i >= 5 {
				break
			}
			payload, _ := json.Marshal(event.Payload)
			parts = append(parts, fmt.Sprintf("  [%s] %s: %s", event.Type, event.Source, truncate(string(payload), 200)))
		}
	}

	if len(pack.RelevantMemories) > 0 {
		parts = append(parts, fmt.Sprintf("\nLessons from past divergences (%d):", len(pack.RelevantMemories)))
		for i, mem := range pack.RelevantMemories {
			if i >= 5 {
				break
			}
			parts = append(parts, fmt.Sprintf("  - [%s, right: %s] %s", mem.DivergenceType, mem.WhoWasRight, truncate(mem.Lesson, 150)))
		}
	}

	if pack.TriggerEvent != nil {
		payload, _ := json.Marshal(pack.TriggerEvent.Payload)
		parts = append(parts, fmt.Sprintf("\nTrigger event: [%s] %s", pack.TriggerEvent.Type, truncate(string(payload), 300)))
	}

	parts = append(parts, "\nProvide your assessment.")
	return strings.Join(parts, "\n")
}

// analystReply mirrors the JSON contract in the system prompt.
type analystReply struct {
	Analysis    string   `json:"analysis"`
	Confidence  float64  `json:"confidence"`
	Actionable  bool     `json:"actionable"`
	Ticker      string   `json:"ticker"`
	Direction   string   `json:"direction"`
	Catalyst    string   `json:"catalyst"`
	EntryTarget *float64 `json:"entry_target"`
	StopLoss    *float64 `json:"stop_loss"`
	TakeProfit  *float64 `json:"take_profit"`
	Horizon     string   `json:"horizon"`
	KeyFactors  []string `json:"key_factors"`
}

func (a *Analyst) parseReply(ctx context.Context, pack ContextPack, reply string) Output {
	var parsed analystReply
	if err := json.Unmarshal([]byte(stripFences(reply)), &parsed); err != nil {
		a.logger.WarnContext(ctx, "reply was not valid JSON, keeping as plain analysis",
			slog.String("error", err.Error()),
		)
		return Output{AgentName: a.Name(), Analysis: reply, Confidence: 0.5}
	}

	out := Output{
		AgentName:  a.Name(),
		Analysis:   parsed.Analysis,
		Confidence: parsed.Confidence,
		KeyFactors: parsed.KeyFactors,
	}
	if out.Analysis == "" {
		out.Analysis = reply
	}

	if !parsed.Actionable || parsed.Ticker == "" || parsed.Direction == "" || parsed.Direction == "hold" {
		return out
	}

	signal := domain.NewSignal(parsed.Ticker, domain.SignalDirection(parsed.Direction), parsed.Catalyst, parsed.Confidence)
	signal.EntryTarget = parsed.EntryTarget
	signal.StopLoss = parsed.StopLoss
	signal.TakeProfit = parsed.TakeProfit
	signal.Horizon = parsed.Horizon
	if err := signal.Validate(); err != nil {
		a.logger.WarnContext(ctx, "dropping invalid proposal from reply",
			slog.String("ticker", parsed.Ticker),
			slog.String("error", err.Error()),
		)
		return out
	}

	out.Proposal = &signal
	return out
}

func renderPortfolio(label string, summary domain.PortfolioSummary) string {
	if len(summary.Positions) == 0 {
		return fmt.Sprintf("\n%s: no open positions", label)
	}
	lines := []string{fmt.Sprintf("\n%s: %d positions, value %.2f, P&L %.1f%%",
		label, len(summary.Positions), summary.TotalValue, summary.TotalPnLPercent)}
	for _, p := range summary.Positions {
		lines = append(lines, fmt.Sprintf("  %s %s @ %.2f (%s)", p.Ticker, p.Direction, p.EntryPrice, p.Status))
	}
	return strings.Join(lines, "\n")
}

// stripFences removes a surrounding markdown code block, which models
// add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
