package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
)

// Momentum is a deterministic trend-following agent. It compares each
// watchlist ticker's latest visible close against its close lookbackDays
// earlier and proposes a signal when the move clears the threshold. No
// LLM involved, so simulations that run only this agent replay
// identically.
type Momentum struct {
	market       domain.MarketDataStore
	lookbackDays int
	minMovePct   float64
}

// NewMomentum creates a Momentum agent from config.
func NewMomentum(market domain.MarketDataStore, cfg config.MomentumConfig) *Momentum {
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = 20
	}
	minMove := cfg.MinMovePct
	if minMove <= 0 {
		minMove = 5.0
	}
	return &Momentum{market: market, lookbackDays: lookback, minMovePct: minMove}
}

var _ Agent = (*Momentum)(nil)

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Description() string {
	return fmt.Sprintf("Momentum: proposes on %d-day moves over %.1f%%", m.lookbackDays, m.minMovePct)
}

// Analyze scans the watchlist in order and proposes on the strongest
// qualifying move. Ties break alphabetically so the output is stable.
func (m *Momentum) Analyze(ctx context.Context, pack ContextPack) (Output, error) {
	type candidate struct {
		ticker  string
		movePct float64
		latest  float64
	}

	var candidates []candidate
	var notes []string

	tickers := append([]string(nil), pack.Watchlist...)
	sort.Strings(tickers)

	for _, ticker := range tickers {
		points, err := m.market.Query(ctx, ticker, pack.AsOf, m.lookbackDays+1)
		if err != nil {
			return Output{}, fmt.Errorf("agent: momentum query %s: %w", ticker, err)
		}
		if len(points) < 2 {
			continue
		}

		// Query returns newest first.
		latest := points[0].Close
		oldest := points[len(points)-1].Close
		if oldest == 0 {
			continue
		}

		movePct := (latest - oldest) / oldest * 100
		notes = append(notes, fmt.Sprintf("%s %+.1f%% over %d points", ticker, movePct, len(points)))

		if abs(movePct) < m.minMovePct {
			continue
		}

		// Skip tickers the paper book already holds; concentration is the
		// gate's call, but repeating the same proposal adds nothing.
		if _, held := pack.AIPortfolio.OpenPosition(ticker); held {
			continue
		}

		candidates = append(candidates, candidate{ticker: ticker, movePct: movePct, latest: latest})
	}

	analysis := "No qualifying momentum moves."
	if len(notes) > 0 {
		analysis = strings.Join(notes, "; ")
	}

	if len(candidates) == 0 {
		return Output{AgentName: m.Name(), Analysis: analysis}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if abs(candidates[i].movePct) != abs(candidates[j].movePct) {
			return abs(candidates[i].movePct) > abs(candidates[j].movePct)
		}
		return candidates[i].ticker < candidates[j].ticker
	})
	best := candidates[0]

	direction := domain.DirectionBuy
	if best.movePct < 0 {
		direction = domain.DirectionSell
	}

	confidence := m.confidenceFor(best.movePct)
	catalyst := fmt.Sprintf("%.1f%% move over %d-day lookback", best.movePct, m.lookbackDays)

	signal := domain.NewSignal(best.ticker, direction, catalyst, confidence)
	signal.EntryTarget = &best.latest
	signal.Horizon = fmt.Sprintf("%dd", m.lookbackDays)

	return Output{
		AgentName:  m.Name(),
		Analysis:   analysis,
		Confidence: confidence,
		KeyFactors: []string{catalyst},
		Proposal:   &signal,
	}, nil
}

// confidenceFor scales confidence with the size of the move: the floor
// is 0.55 at the threshold, rising toward 0.95 as the move doubles and
// triples the threshold.
func (m *Momentum) confidenceFor(movePct float64) float64 {
	ratio := abs(movePct) / m.minMovePct
	confidence := 0.55 + 0.2*(ratio-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.55 {
		confidence = 0.55
	}
	return confidence
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
