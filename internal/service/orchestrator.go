package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tessera-trading/advisor/internal/agent"
	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/portfolio"
)

// EventReader reads back the event log for context assembly.
type EventReader interface {
	ReadRange(ctx context.Context, from, to time.Time) ([]domain.Event, error)
}

// vixTicker is the volatility index symbol the snapshot tries to
// include when the market store has it.
const vixTicker = "^VIX"

// Orchestrator assembles decision context, runs the configured agents
// over it, records the reasoning as a memo, and submits every proposal
// to the signal service for gating.
type Orchestrator struct {
	agents   *agent.Registry
	tracker  *portfolio.Tracker
	market   domain.MarketDataStore
	events   EventReader
	memories *MemoryRetriever
	memos    domain.MemoStore
	signals  *SignalService
	bus      domain.EventBus
	gate     clock.Gate
	cfg      config.AdvisorConfig
	logger   *slog.Logger
}

// NewOrchestrator wires the decision pipeline entry point.
func NewOrchestrator(
	agents *agent.Registry,
	tracker *portfolio.Tracker,
	market domain.MarketDataStore,
	events EventReader,
	memories *MemoryRetriever,
	memos domain.MemoStore,
	signals *SignalService,
	bus domain.EventBus,
	gate clock.Gate,
	cfg config.AdvisorConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		agents:   agents,
		tracker:  tracker,
		market:   market,
		events:   events,
		memories: memories,
		memos:    memos,
		signals:  signals,
		bus:      bus,
		gate:     gate,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// Advise runs one full decision cycle: assemble context, run agents,
// persist the memo, and gate every proposal. trigger may be nil for
// scheduled runs. Returns the gated signals in submission order.
func (o *Orchestrator) Advise(ctx context.Context, trigger *domain.Event) ([]domain.Signal, error) {
	pack, err := o.assembleContext(ctx, trigger)
	if err != nil {
		return nil, err
	}

	assembled := domain.NewEvent(domain.EventTypeContextAssembled, "orchestrator", map[string]any{
		"as_of":     pack.AsOf,
		"watchlist": pack.Watchlist,
		"memories":  len(pack.RelevantMemories),
		"events":    len(pack.RecentEvents),
	})
	if trigger != nil {
		assembled.CorrelationID = trigger.CorrelationID
	}
	if _, err := o.bus.Publish(ctx, assembled); err != nil {
		return nil, fmt.Errorf("service: publish context assembled: %w", err)
	}

	outputs := o.runAgents(ctx, pack)
	if len(outputs) == 0 {
		o.logger.InfoContext(ctx, "no agent produced output")
		return nil, nil
	}

	memo, err := o.writeMemo(ctx, pack, outputs, assembled.CorrelationID)
	if err != nil {
		return nil, err
	}

	return o.submitProposals(ctx, outputs, memo)
}

// assembleContext gathers everything visible at the gate's current
// time. Memory retrieval failures degrade to an empty slice; market or
// portfolio failures are fatal since agents cannot reason without them.
func (o *Orchestrator) assembleContext(ctx context.Context, trigger *domain.Event) (agent.ContextPack, error) {
	asOf := o.gate.Now()

	aiSummary, err := o.tracker.Summary(ctx, domain.PortfolioAI)
	if err != nil {
		return agent.ContextPack{}, fmt.Errorf("service: assemble ai summary: %w", err)
	}
	humanSummary, err := o.tracker.Summary(ctx, domain.PortfolioHuman)
	if err != nil {
		return agent.ContextPack{}, fmt.Errorf("service: assemble human summary: %w", err)
	}

	watchlist := make([]string, len(o.cfg.Watchlist))
	for i, t := range o.cfg.Watchlist {
		watchlist[i] = strings.ToUpper(t)
	}
	sort.Strings(watchlist)

	snapshot := o.snapshot(ctx, watchlist, asOf)

	lookback := o.cfg.RecentEventDays
	if lookback <= 0 {
		lookback = 7
	}
	recent, err := o.events.ReadRange(ctx, asOf.AddDate(0, 0, -lookback), asOf)
	if err != nil {
		return agent.ContextPack{}, fmt.Errorf("service: assemble recent events: %w", err)
	}

	ticker := ""
	if trigger != nil {
		if t, ok := trigger.Payload["ticker"].(string); ok {
			ticker = t
		}
	}

	return agent.ContextPack{
		AsOf:             asOf,
		Watchlist:        watchlist,
		MarketSnapshot:   snapshot,
		AIPortfolio:      aiSummary,
		HumanPortfolio:   humanSummary,
		TriggerEvent:     trigger,
		RecentEvents:     recent,
		RelevantMemories: o.memories.Relevant(ctx, ticker, nil),
	}, nil
}

// snapshot pulls the latest visible price per watchlist ticker. A
// ticker with no data yet is simply absent from the map.
func (o *Orchestrator) snapshot(ctx context.Context, watchlist []string, asOf time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Timestamp: asOf,
		Prices:    make(map[string]float64, len(watchlist)),
	}
	for _, ticker := range watchlist {
		price, err := o.market.LatestPrice(ctx, ticker, asOf)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				o.logger.WarnContext(ctx, "price lookup failed",
					slog.String("ticker", ticker), slog.Any("error", err))
			}
			continue
		}
		snap.Prices[ticker] = price
	}
	if vix, err := o.market.LatestPrice(ctx, vixTicker, asOf); err == nil {
		snap.VIX = &vix
	}
	return snap
}

// runAgents executes every configured agent in order. One agent
// failing never stops the others.
func (o *Orchestrator) runAgents(ctx context.Context, pack agent.ContextPack) []agent.Output {
	names := o.cfg.Agents
	if len(names) == 0 {
		names = o.agents.List()
	}

	outputs := make([]agent.Output, 0, len(names))
	for _, name := range names {
		a, err := o.agents.Get(name)
		if err != nil {
			o.logger.WarnContext(ctx, "configured agent missing", slog.String("agent", name))
			continue
		}
		out, err := a.Analyze(ctx, pack)
		if err != nil {
			o.logger.ErrorContext(ctx, "agent failed",
				slog.String("agent", name), slog.Any("error", err))
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs
}

// writeMemo records the agents' reasoning for the human reader and
// announces it.
func (o *Orchestrator) writeMemo(ctx context.Context, pack agent.ContextPack, outputs []agent.Output, correlationID string) (domain.Memo, error) {
	memo := domain.NewMemo(correlationID)
	memo.CreatedAt = pack.AsOf
	memo.MarketContext = renderSnapshot(pack.MarketSnapshot)

	var summaries, expressions []string
	risks := make([]string, 0)
	for _, out := range outputs {
		memo.AgentsUsed = append(memo.AgentsUsed, out.AgentName)
		if out.Analysis != "" {
			summaries = append(summaries, fmt.Sprintf("[%s] %s", out.AgentName, out.Analysis))
		}
		for _, factor := range out.KeyFactors {
			if !containsTag(risks, factor) {
				risks = append(risks, factor)
			}
		}
		if out.Proposal != nil {
			expressions = append(expressions, fmt.Sprintf("%s %s (confidence %.2f)",
				strings.ToUpper(string(out.Proposal.Direction)), out.Proposal.Ticker, out.Proposal.Confidence))
			if memo.Catalyst == "" {
				memo.Catalyst = out.Proposal.Catalyst
			}
		}
	}
	memo.ExecutiveSummary = strings.Join(summaries, "\n\n")
	memo.TradeExpression = strings.Join(expressions, "; ")
	memo.Risks = risks

	if err := o.memos.Put(ctx, memo); err != nil {
		return domain.Memo{}, fmt.Errorf("service: persist memo: %w", err)
	}

	ev := domain.NewEvent(domain.EventTypeMemoCreated, "orchestrator", map[string]any{
		"memo_id": memo.ID,
		"agents":  memo.AgentsUsed,
	})
	ev.CorrelationID = memo.CorrelationID
	if _, err := o.bus.Publish(ctx, ev); err != nil {
		return domain.Memo{}, fmt.Errorf("service: publish memo created: %w", err)
	}
	return memo, nil
}

// submitProposals gates every proposal. Rejections are normal output,
// not errors; only infrastructure failures abort the cycle.
func (o *Orchestrator) submitProposals(ctx context.Context, outputs []agent.Output, memo domain.Memo) ([]domain.Signal, error) {
	var gated []domain.Signal
	for _, out := range outputs {
		if out.Proposal == nil {
			continue
		}
		proposal := *out.Proposal
		proposal.MemoID = memo.ID
		if proposal.CorrelationID == "" {
			proposal.CorrelationID = memo.CorrelationID
		}

		signal, err := o.signals.OpenPotentialPosition(ctx, proposal)
		if err != nil {
			return gated, fmt.Errorf("service: gate proposal from %s: %w", out.AgentName, err)
		}
		gated = append(gated, signal)
	}
	return gated, nil
}

func renderSnapshot(snap domain.MarketSnapshot) string {
	if len(snap.Prices) == 0 && snap.VIX == nil {
		return "no market data visible"
	}
	tickers := make([]string, 0, len(snap.Prices))
	for t := range snap.Prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	parts := make([]string, 0, len(tickers)+1)
	for _, t := range tickers {
		parts = append(parts, fmt.Sprintf("%s %.2f", t, snap.Prices[t]))
	}
	if snap.VIX != nil {
		parts = append(parts, fmt.Sprintf("VIX %.1f", *snap.VIX))
	}
	return strings.Join(parts, ", ")
}
