package domain

import "time"

// SimulationStatus tracks a simulation run's lifecycle.
type SimulationStatus string

const (
	SimulationPending   SimulationStatus = "pending"
	SimulationRunning   SimulationStatus = "running"
	SimulationCompleted SimulationStatus = "completed"
	SimulationFailed    SimulationStatus = "failed"
)

// SimulationConfig describes one backtest run.
type SimulationConfig struct {
	StartDate         string         `json:"start_date"` // YYYY-MM-DD
	EndDate           string         `json:"end_date"`
	InitialCapital    float64        `json:"initial_capital"`
	Agents            []string       `json:"agents,omitempty"`
	RiskOverrides     map[string]any `json:"risk_config,omitempty"`
	SlippageBps       float64        `json:"slippage_bps"`
	CommissionPerTrip float64        `json:"commission_per_trade"`
	Seed              int64          `json:"seed,omitempty"`
}

// PerformanceMetrics are the standard backtest statistics.
type PerformanceMetrics struct {
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	SharpeRatio float64 `json:"sharpe_ratio"`

	MaxDrawdown             float64 `json:"max_drawdown"`
	MaxDrawdownDurationDays int     `json:"max_drawdown_duration_days"`
	Volatility              float64 `json:"volatility"`

	HitRate      float64 `json:"hit_rate"`
	WinLossRatio float64 `json:"win_loss_ratio"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	TotalSignals int     `json:"total_signals"`
	TotalTrades  int     `json:"total_trades"`
}

// SimulationRun records one backtest: its config, status, and results.
type SimulationRun struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Config SimulationConfig `json:"config"`
	Status SimulationStatus `json:"status"`

	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	ElapsedSeconds float64             `json:"elapsed_seconds,omitempty"`
	SignalCount    int                 `json:"signal_count"`
	Metrics        *PerformanceMetrics `json:"metrics,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// NewSimulationRun builds a pending run with a fresh ID.
func NewSimulationRun(name string, cfg SimulationConfig) SimulationRun {
	return SimulationRun{
		ID:     NewID("sim"),
		Name:   name,
		Config: cfg,
		Status: SimulationPending,
	}
}

// MarkStarted transitions the run to running.
func (r *SimulationRun) MarkStarted(at time.Time) {
	r.Status = SimulationRunning
	r.StartedAt = &at
}

// MarkCompleted records the final metrics.
func (r *SimulationRun) MarkCompleted(at time.Time, metrics PerformanceMetrics, signalCount int) {
	r.Status = SimulationCompleted
	r.CompletedAt = &at
	r.Metrics = &metrics
	r.SignalCount = signalCount
	if r.StartedAt != nil {
		r.ElapsedSeconds = at.Sub(*r.StartedAt).Seconds()
	}
}

// MarkFailed records the failure reason.
func (r *SimulationRun) MarkFailed(at time.Time, errMsg string) {
	r.Status = SimulationFailed
	r.CompletedAt = &at
	r.Error = errMsg
	if r.StartedAt != nil {
		r.ElapsedSeconds = at.Sub(*r.StartedAt).Seconds()
	}
}
