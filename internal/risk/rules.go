package risk

import (
	"fmt"
	"strings"

	"github.com/tessera-trading/advisor/internal/domain"
)

// unclassifiedSector buckets tickers with no configured sector mapping.
const unclassifiedSector = "unclassified"

func ptr(v float64) *float64 { return &v }

// ---------------------------------------------------------------------------
// confidence
// ---------------------------------------------------------------------------

// ConfidenceRule rejects signals below a minimum confidence level.
type ConfidenceRule struct {
	MinConfidence float64
}

func (r ConfidenceRule) Name() string { return "confidence" }

func (r ConfidenceRule) Evaluate(in Input) domain.RuleEvaluation {
	passed := in.Signal.Confidence >= r.MinConfidence
	reason := fmt.Sprintf("Confidence %.2f meets minimum %.2f", in.Signal.Confidence, r.MinConfidence)
	if !passed {
		reason = fmt.Sprintf("Confidence %.2f below minimum %.2f", in.Signal.Confidence, r.MinConfidence)
	}
	return domain.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: ptr(in.Signal.Confidence),
		LimitValue:   ptr(r.MinConfidence),
	}
}

// ---------------------------------------------------------------------------
// concentration
// ---------------------------------------------------------------------------

// ConcentrationRule rejects signals that would push a single position or
// a sector past its share of the portfolio. Sectors maps tickers to
// sector labels; unmapped tickers share one unclassified bucket.
type ConcentrationRule struct {
	MaxSinglePosition float64
	MaxSectorExposure float64
	Sectors           map[string]string
}

func (r ConcentrationRule) Name() string { return "concentration" }

func (r ConcentrationRule) Evaluate(in Input) domain.RuleEvaluation {
	portfolio := in.Portfolio
	if len(portfolio.Positions) == 0 || portfolio.TotalValue <= 0 {
		return domain.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   true,
			Reason:   "No existing positions -- concentration check passes",
		}
	}

	// Existing exposure to the signal's ticker.
	var positionValue float64
	sectorValues := make(map[string]float64)
	for _, p := range portfolio.Positions {
		if !p.Open() {
			continue
		}
		if p.Ticker == in.Signal.Ticker {
			positionValue += p.MarketValue()
		}
		sectorValues[r.sectorOf(p.Ticker)] += p.MarketValue()
	}

	positionPct := positionValue / portfolio.TotalValue
	if positionPct >= r.MaxSinglePosition {
		return domain.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   false,
			Reason: fmt.Sprintf("%s already %.1f%% of portfolio (limit: %.1f%%)",
				in.Signal.Ticker, positionPct*100, r.MaxSinglePosition*100),
			CurrentValue: ptr(positionPct),
			LimitValue:   ptr(r.MaxSinglePosition),
		}
	}

	sector := r.sectorOf(in.Signal.Ticker)
	sectorPct := sectorValues[sector] / portfolio.TotalValue
	if sectorPct >= r.MaxSectorExposure {
		return domain.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   false,
			Reason: fmt.Sprintf("Sector %s already %.1f%% of portfolio (limit: %.1f%%)",
				sector, sectorPct*100, r.MaxSectorExposure*100),
			CurrentValue: ptr(sectorPct),
			LimitValue:   ptr(r.MaxSectorExposure),
		}
	}

	return domain.RuleEvaluation{
		RuleName: r.Name(),
		Passed:   true,
		Reason:   "Position concentration within limits",
	}
}

func (r ConcentrationRule) sectorOf(ticker string) string {
	if s, ok := r.Sectors[strings.ToUpper(ticker)]; ok && s != "" {
		return s
	}
	return unclassifiedSector
}

// ---------------------------------------------------------------------------
// frequency
// ---------------------------------------------------------------------------

// FrequencyRule caps the number of approved signals per day. The count
// arrives via Input.ApprovedToday, derived from the day's event file.
type FrequencyRule struct {
	MaxSignalsPerDay int
}

func (r FrequencyRule) Name() string { return "frequency" }

func (r FrequencyRule) Evaluate(in Input) domain.RuleEvaluation {
	passed := in.ApprovedToday < r.MaxSignalsPerDay
	reason := fmt.Sprintf("%d signals today (limit: %d)", in.ApprovedToday, r.MaxSignalsPerDay)
	if !passed {
		reason = fmt.Sprintf("Already %d signals today (limit: %d)", in.ApprovedToday, r.MaxSignalsPerDay)
	}
	return domain.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: ptr(float64(in.ApprovedToday)),
		LimitValue:   ptr(float64(r.MaxSignalsPerDay)),
	}
}

// ---------------------------------------------------------------------------
// drawdown
// ---------------------------------------------------------------------------

// DrawdownRule pauses new signals once the portfolio has drawn down past
// the ceiling. The peak is estimated as current value minus total P&L,
// so a portfolio with negative P&L measures its loss against where it
// would have been without it.
type DrawdownRule struct {
	MaxDrawdown float64
}

func (r DrawdownRule) Name() string { return "drawdown" }

func (r DrawdownRule) Evaluate(in Input) domain.RuleEvaluation {
	portfolio := in.Portfolio
	if len(portfolio.Positions) == 0 || portfolio.TotalValue <= 0 {
		return domain.RuleEvaluation{
			RuleName: r.Name(),
			Passed:   true,
			Reason:   "No positions -- drawdown check passes",
		}
	}

	drawdown := 0.0
	if portfolio.TotalPnL < 0 {
		peakEstimate := portfolio.TotalValue - portfolio.TotalPnL
		if peakEstimate > 0 {
			drawdown = -portfolio.TotalPnL / peakEstimate
		}
	}

	passed := drawdown < r.MaxDrawdown
	reason := fmt.Sprintf("Portfolio drawdown %.1f%% within limit %.1f%%", drawdown*100, r.MaxDrawdown*100)
	if !passed {
		reason = fmt.Sprintf("Portfolio drawdown %.1f%% exceeds limit %.1f%%", drawdown*100, r.MaxDrawdown*100)
	}
	return domain.RuleEvaluation{
		RuleName:     r.Name(),
		Passed:       passed,
		Reason:       reason,
		CurrentValue: ptr(drawdown),
		LimitValue:   ptr(r.MaxDrawdown),
	}
}
