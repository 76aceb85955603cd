package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/llm"
)

// divergence is one classified disagreement between the two books,
// resolved enough to judge.
type divergence struct {
	Ticker      string
	Type        domain.DivergenceType
	SignalID    string
	AIAction    string
	HumanAction string
	AIPos       *domain.Position
	HumanPos    *domain.Position
	OpenedAt    time.Time
}

// DivergenceEngine is the learning loop. On each review it compares
// the paper book against the human book ticker by ticker, classifies
// disagreements, waits out the outcome period, and turns each resolved
// divergence into exactly one Memory.
type DivergenceEngine struct {
	positions domain.PositionStore
	signals   domain.SignalStore
	memories  domain.MemoryStore
	index     domain.MemoryIndex
	bus       domain.EventBus
	gate      clock.Gate
	provider  llm.Provider // nil disables lesson synthesis, not the review

	minOutcome time.Duration
	timingTol  time.Duration
	priceTol   float64 // percent
	sizeTol    float64 // percent
	source     string
	logger     *slog.Logger
}

// NewDivergenceEngine wires the engine for live reviews. provider may
// be nil; lessons then fall back to a deterministic summary.
func NewDivergenceEngine(
	positions domain.PositionStore,
	signals domain.SignalStore,
	memories domain.MemoryStore,
	index domain.MemoryIndex,
	bus domain.EventBus,
	gate clock.Gate,
	provider llm.Provider,
	cfg config.LearningConfig,
	logger *slog.Logger,
) *DivergenceEngine {
	return &DivergenceEngine{
		positions:  positions,
		signals:    signals,
		memories:   memories,
		index:      index,
		bus:        bus,
		gate:       gate,
		provider:   provider,
		minOutcome: cfg.MinOutcomePeriod.Duration,
		timingTol:  cfg.TimingTolerance.Duration,
		priceTol:   cfg.PriceTolerance,
		sizeTol:    cfg.SizeTolerancePct,
		source:     domain.MemorySourceProduction,
		logger:     logger.With(slog.String("component", "divergence")),
	}
}

// MarkSimulated tags all memories the engine creates as simulation
// output. Used by backtest runs to pre-seed lessons without polluting
// the production corpus.
func (e *DivergenceEngine) MarkSimulated() {
	e.source = domain.MemorySourceSimulation
}

// Review runs one comparison pass and returns how many memories were
// created.
func (e *DivergenceEngine) Review(ctx context.Context) (int, error) {
	aiBook, err := e.positions.List(ctx, domain.PortfolioAI)
	if err != nil {
		return 0, fmt.Errorf("service: divergence list ai: %w", err)
	}
	humanBook, err := e.positions.List(ctx, domain.PortfolioHuman)
	if err != nil {
		return 0, fmt.Errorf("service: divergence list human: %w", err)
	}

	aiByTicker := byTicker(aiBook)
	humanByTicker := byTicker(humanBook)

	tickers := make([]string, 0, len(aiByTicker)+len(humanByTicker))
	seen := make(map[string]bool)
	for t := range aiByTicker {
		tickers = append(tickers, t)
		seen[t] = true
	}
	for t := range humanByTicker {
		if !seen[t] {
			tickers = append(tickers, t)
		}
	}
	sort.Strings(tickers)

	now := e.gate.Now()
	created := 0
	for _, ticker := range tickers {
		div := e.classify(ticker, aiByTicker[ticker], humanByTicker[ticker])
		if div == nil {
			continue
		}
		if now.Sub(div.OpenedAt) < e.minOutcome {
			continue
		}

		dup, err := e.alreadyCovered(ctx, *div)
		if err != nil {
			return created, err
		}
		if dup {
			continue
		}

		if err := e.record(ctx, *div, now); err != nil {
			e.logger.ErrorContext(ctx, "failed to record divergence",
				slog.String("ticker", div.Ticker),
				slog.String("type", string(div.Type)),
				slog.Any("error", err),
			)
			continue
		}
		created++
	}

	if created > 0 {
		e.logger.InfoContext(ctx, "review complete", slog.Int("memories_created", created))
	}
	return created, nil
}

// byTicker keeps the most recent record per ticker. The stores hold at
// most one open position per key, but closed history can pile up.
func byTicker(book []domain.Position) map[string]*domain.Position {
	out := make(map[string]*domain.Position, len(book))
	for i := range book {
		pos := &book[i]
		if prev, ok := out[pos.Ticker]; ok && prev.OpenedAt.After(pos.OpenedAt) {
			continue
		}
		out[pos.Ticker] = pos
	}
	return out
}

// classify decides whether the two books disagree about a ticker and
// how. Nil means no divergence worth remembering.
func (e *DivergenceEngine) classify(ticker string, ai, human *domain.Position) *divergence {
	switch {
	case ai != nil && human != nil:
		return e.classifyPair(ticker, ai, human)

	case ai != nil:
		// A paper position with no human record means the signal is
		// still awaiting confirmation; the watcher will produce a
		// skipped or assumed record eventually.
		return nil

	case human != nil && human.SignalID == "":
		return &divergence{
			Ticker:      ticker,
			Type:        domain.DivergenceHumanInitiated,
			AIAction:    "no signal",
			HumanAction: describeEntry(human),
			HumanPos:    human,
			OpenedAt:    human.OpenedAt,
		}
	}
	return nil
}

func (e *DivergenceEngine) classifyPair(ticker string, ai, human *domain.Position) *divergence {
	if human.Status == domain.PositionStatusSkipped {
		reason := human.UserNotes
		if reason == "" {
			reason = "no reason given"
		}
		return &divergence{
			Ticker:      ticker,
			Type:        domain.DivergenceHumanSkipped,
			SignalID:    ai.SignalID,
			AIAction:    describeEntry(ai),
			HumanAction: "skipped: " + reason,
			AIPos:       ai,
			HumanPos:    human,
			OpenedAt:    ai.OpenedAt,
		}
	}

	// Only resolved pairs are judged; a human position still in the
	// confirmation window is not a divergence yet.
	if !resolved(ai) || !resolved(human) {
		return nil
	}

	if ai.SignalID != "" && ai.SignalID == human.SignalID && sizeDeltaPct(ai, human) > e.sizeTol {
		return &divergence{
			Ticker:      ticker,
			Type:        domain.DivergenceHumanModified,
			SignalID:    ai.SignalID,
			AIAction:    describeEntry(ai),
			HumanAction: describeEntry(human),
			AIPos:       ai,
			HumanPos:    human,
			OpenedAt:    ai.OpenedAt,
		}
	}

	if ai.Direction == human.Direction && e.timingDiverged(ai, human) {
		return &divergence{
			Ticker:      ticker,
			Type:        domain.DivergenceTiming,
			SignalID:    ai.SignalID,
			AIAction:    describeEntry(ai),
			HumanAction: describeEntry(human),
			AIPos:       ai,
			HumanPos:    human,
			OpenedAt:    ai.OpenedAt,
		}
	}
	return nil
}

func resolved(pos *domain.Position) bool {
	switch pos.Status {
	case domain.PositionStatusMonitoring, domain.PositionStatusExitSignaled, domain.PositionStatusClosed:
		return true
	}
	return false
}

// timingDiverged reports whether two same-direction positions differ in
// entry timing or fill prices beyond tolerance.
func (e *DivergenceEngine) timingDiverged(ai, human *domain.Position) bool {
	humanEntered := human.OpenedAt
	if human.ConfirmedAt != nil {
		humanEntered = *human.ConfirmedAt
	}
	if absDuration(humanEntered.Sub(ai.OpenedAt)) > e.timingTol {
		return true
	}
	if pctDelta(ai.EntryPrice, human.EntryPrice) > e.priceTol {
		return true
	}
	if ai.ClosePrice != nil && human.ClosePrice != nil && pctDelta(*ai.ClosePrice, *human.ClosePrice) > e.priceTol {
		return true
	}
	return false
}

func sizeDeltaPct(ai, human *domain.Position) float64 {
	if ai.Size == nil || human.Size == nil || *ai.Size == 0 {
		return 0
	}
	return math.Abs(*human.Size-*ai.Size) / *ai.Size * 100
}

func pctDelta(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return math.Abs(b-a) / math.Abs(a) * 100
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func describeEntry(pos *domain.Position) string {
	s := fmt.Sprintf("%s at %.2f", pos.Direction, pos.EntryPrice)
	if pos.Size != nil {
		s += fmt.Sprintf(" x%.0f", *pos.Size)
	}
	return s
}

// alreadyCovered checks the duplicate guard. Signal-backed divergences
// are keyed on (signal, type); human-initiated ones fall back to a
// ticker search since they have no signal reference.
func (e *DivergenceEngine) alreadyCovered(ctx context.Context, div divergence) (bool, error) {
	if div.SignalID != "" {
		dup, err := e.index.DuplicateExists(ctx, div.SignalID, div.Type)
		if err != nil {
			return false, fmt.Errorf("service: duplicate check: %w", err)
		}
		return dup, nil
	}

	ids, err := e.index.Search(ctx, domain.MemoryQuery{Ticker: div.Ticker, Since: &div.OpenedAt})
	if err != nil {
		return false, fmt.Errorf("service: duplicate search: %w", err)
	}
	for _, id := range ids {
		mem, err := e.memories.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return false, err
		}
		if mem.DivergenceType == div.Type {
			return true, nil
		}
	}
	return false, nil
}

// record judges the divergence, synthesizes a lesson, persists the
// memory, indexes it, and announces it.
func (e *DivergenceEngine) record(ctx context.Context, div divergence, now time.Time) error {
	aiPnL := outcomePnL(div.AIPos)
	humanPnL := outcomePnL(div.HumanPos)
	if div.HumanPos != nil && div.HumanPos.Status == domain.PositionStatusSkipped {
		zero := 0.0
		humanPnL = &zero
	}
	verdict := judge(div.Type, aiPnL, humanPnL)

	mem := domain.NewMemory(div.Type, div.SignalID)
	mem.CreatedAt = now
	mem.AIAction = div.AIAction
	mem.HumanAction = div.HumanAction
	mem.OutcomePeriod = now.Sub(div.OpenedAt)
	mem.Outcome = describeOutcome(div)
	mem.AIPnL = aiPnL
	mem.HumanPnL = humanPnL
	mem.WhoWasRight = verdict
	mem.Source = e.source
	mem.Tags = []string{tickerTag(div.Ticker), string(div.Type)}

	e.synthesize(ctx, &mem, div, verdict)

	if err := e.memories.Put(ctx, mem); err != nil {
		return fmt.Errorf("service: persist memory: %w", err)
	}
	if err := e.index.Index(ctx, mem); err != nil {
		return fmt.Errorf("service: index memory: %w", err)
	}

	ev := domain.NewEvent(domain.EventTypeMemoryCreated, "divergence", map[string]any{
		"memory_id":       mem.ID,
		"ticker":          div.Ticker,
		"divergence_type": string(div.Type),
		"who_was_right":   string(mem.WhoWasRight),
	})
	if div.SignalID != "" {
		if signal, err := e.signals.Get(ctx, div.SignalID); err == nil {
			ev.CorrelationID = signal.CorrelationID
		}
	}
	if _, err := e.bus.Publish(ctx, ev); err != nil {
		return fmt.Errorf("service: publish memory created: %w", err)
	}

	e.logger.InfoContext(ctx, "memory created",
		slog.String("memory_id", mem.ID),
		slog.String("ticker", div.Ticker),
		slog.String("type", string(div.Type)),
		slog.String("who_was_right", string(mem.WhoWasRight)),
	)
	return nil
}

// outcomePnL prefers realized P&L, falling back to the last marked
// unrealized figure.
func outcomePnL(pos *domain.Position) *float64 {
	if pos == nil {
		return nil
	}
	if pos.RealizedPnL != nil {
		return pos.RealizedPnL
	}
	return pos.PnL
}

// judge computes the verdict from the relative P&L sign. The side that
// did not act scores zero, so skipping a loser counts as being right.
func judge(typ domain.DivergenceType, aiPnL, humanPnL *float64) domain.Verdict {
	if aiPnL == nil && humanPnL == nil {
		return domain.VerdictNeither
	}
	ai, human := 0.0, 0.0
	if aiPnL != nil {
		ai = *aiPnL
	}
	if humanPnL != nil {
		human = *humanPnL
	}

	switch {
	case ai > 0 && human > 0:
		return domain.VerdictBoth
	case ai <= 0 && human <= 0 && ai == human:
		return domain.VerdictNeither
	case ai > human:
		return domain.VerdictAI
	default:
		return domain.VerdictHuman
	}
}

func describeOutcome(div divergence) string {
	pos := div.AIPos
	if pos == nil {
		pos = div.HumanPos
	}
	if pos == nil {
		return "outcome not yet determined"
	}

	last := pos.CurrentPrice
	if pos.ClosePrice != nil {
		last = pos.ClosePrice
	}
	if last == nil || pos.EntryPrice == 0 {
		return "outcome not yet determined"
	}
	change := (*last - pos.EntryPrice) / pos.EntryPrice * 100
	return fmt.Sprintf("%s moved from %.2f to %.2f (%+.1f%%)", div.Ticker, pos.EntryPrice, *last, change)
}

const lessonSystemPrompt = "You analyze trading divergences between an AI advisor and a human trader."

const lessonPromptTemplate = `A divergence between an AI trading advisor and a human trader has resolved.

Divergence details:
- Ticker: %s
- Type: %s
- AI action: %s
- Human action: %s
- Outcome: %s
- AI P&L: %s
- Human P&L: %s
- Who was right (computed from P&L): %s

Respond in JSON:
{
    "lesson": "A concise lesson learned (2-3 sentences). What should be done differently next time?",
    "tags": ["tag1", "tag2", "tag3"],
    "confidence_impact": -0.1 to 0.1
}

Tags should include the sector and any relevant themes (e.g. "earnings", "macro", "momentum").
confidence_impact: positive means the advisor should be MORE confident in similar setups, negative means LESS.`

type lessonReply struct {
	Lesson           string   `json:"lesson"`
	Tags             []string `json:"tags"`
	ConfidenceImpact float64  `json:"confidence_impact"`
	WhoWasRight      string   `json:"who_was_right"`
}

// synthesize fills the lesson text, extra tags, and confidence impact.
// The verdict stays as computed; the model's opinion on it is taken
// only when P&L data was missing entirely.
func (e *DivergenceEngine) synthesize(ctx context.Context, mem *domain.Memory, div divergence, verdict domain.Verdict) {
	mem.Lesson = fallbackLesson(div, verdict)

	if e.provider == nil {
		return
	}

	prompt := fmt.Sprintf(lessonPromptTemplate,
		div.Ticker, div.Type, div.AIAction, div.HumanAction,
		mem.Outcome, formatPnL(mem.AIPnL), formatPnL(mem.HumanPnL), verdict,
	)
	reply, err := e.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: lessonSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		e.logger.WarnContext(ctx, "lesson synthesis failed, keeping fallback",
			slog.String("ticker", div.Ticker), slog.Any("error", err))
		return
	}

	var parsed lessonReply
	if err := json.Unmarshal([]byte(stripFences(reply)), &parsed); err != nil {
		e.logger.WarnContext(ctx, "unparseable lesson reply, keeping fallback",
			slog.String("ticker", div.Ticker))
		return
	}

	if parsed.Lesson != "" {
		mem.Lesson = parsed.Lesson
	}
	for _, tag := range parsed.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && !containsTag(mem.Tags, tag) {
			mem.Tags = append(mem.Tags, tag)
		}
	}
	mem.ConfidenceImpact = domain.ClampConfidenceImpact(parsed.ConfidenceImpact)

	if mem.AIPnL == nil && mem.HumanPnL == nil && parsed.WhoWasRight != "" {
		mem.WhoWasRight = domain.Verdict(parsed.WhoWasRight)
	}
}

func fallbackLesson(div divergence, verdict domain.Verdict) string {
	switch verdict {
	case domain.VerdictAI:
		return fmt.Sprintf("On %s the advisor's call (%s) outperformed the human's (%s).", div.Ticker, div.AIAction, div.HumanAction)
	case domain.VerdictHuman:
		return fmt.Sprintf("On %s the human's call (%s) outperformed the advisor's (%s).", div.Ticker, div.HumanAction, div.AIAction)
	case domain.VerdictBoth:
		return fmt.Sprintf("On %s both books profited despite diverging (%s vs %s).", div.Ticker, div.AIAction, div.HumanAction)
	default:
		return fmt.Sprintf("On %s neither side came out ahead (%s vs %s).", div.Ticker, div.AIAction, div.HumanAction)
	}
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

func formatPnL(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f", *v)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// tickerTag is the index convention for ticker tags.
func tickerTag(ticker string) string {
	return "ticker:" + strings.ToUpper(ticker)
}
