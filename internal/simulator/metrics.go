package simulator

import (
	"math"
	"time"

	"github.com/tessera-trading/advisor/internal/domain"
)

const (
	// riskFreeRate is the annual risk-free rate used for Sharpe.
	riskFreeRate = 0.04
	// tradingDaysPerYear annualizes daily statistics.
	tradingDaysPerYear = 252.0
	daysPerYear        = 365.25
)

// ComputeMetrics derives the standard backtest statistics from a daily
// equity curve and the realized P&L of each closed trade. equity[0] is
// the starting capital; one sample per simulated day.
func ComputeMetrics(equity []float64, tradePnLs []float64, start, end time.Time) domain.PerformanceMetrics {
	var m domain.PerformanceMetrics
	m.TotalTrades = len(tradePnLs)

	if len(equity) < 2 || equity[0] <= 0 {
		return m
	}
	initial, final := equity[0], equity[len(equity)-1]
	m.TotalReturn = (final - initial) / initial

	if years := end.Sub(start).Hours() / 24 / daysPerYear; years > 0 && final > 0 {
		m.CAGR = math.Pow(final/initial, 1/years) - 1
	}

	returns := dailyReturns(equity)
	if len(returns) > 1 {
		mean, stdev := meanStdev(returns)
		m.Volatility = stdev * math.Sqrt(tradingDaysPerYear)
		if stdev > 0 {
			excess := mean - riskFreeRate/tradingDaysPerYear
			m.SharpeRatio = excess / stdev * math.Sqrt(tradingDaysPerYear)
		}
	}

	m.MaxDrawdown, m.MaxDrawdownDurationDays = maxDrawdown(equity)
	fillTradeStats(&m, tradePnLs)
	return m
}

func dailyReturns(equity []float64) []float64 {
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// meanStdev returns the mean and sample standard deviation.
func meanStdev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)-1))
}

// maxDrawdown returns the deepest peak-to-trough loss as a positive
// fraction, and the longest run of days spent below a prior peak.
func maxDrawdown(equity []float64) (float64, int) {
	peak := equity[0]
	peakIdx := 0
	var worst float64
	var longest int

	for i, v := range equity {
		if v >= peak {
			peak = v
			peakIdx = i
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
		if days := i - peakIdx; days > longest {
			longest = days
		}
	}
	return worst, longest
}

func fillTradeStats(m *domain.PerformanceMetrics, pnls []float64) {
	if len(pnls) == 0 {
		return
	}
	var wins, losses int
	var grossWin, grossLoss float64
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
			grossWin += pnl
		} else if pnl < 0 {
			losses++
			grossLoss += -pnl
		}
	}

	m.HitRate = float64(wins) / float64(len(pnls))
	if wins > 0 {
		m.AvgWin = grossWin / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}
	if m.AvgLoss > 0 {
		m.WinLossRatio = m.AvgWin / m.AvgLoss
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
}
