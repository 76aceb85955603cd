package domain

import (
	"fmt"
	"time"
)

// PortfolioType distinguishes the paper portfolio from the human one.
type PortfolioType string

const (
	PortfolioAI    PortfolioType = "ai"
	PortfolioHuman PortfolioType = "human"
)

// PositionDirection is the side of an open position.
type PositionDirection string

const (
	PositionLong  PositionDirection = "long"
	PositionShort PositionDirection = "short"
)

// PositionStatus tracks a position through its lifecycle.
type PositionStatus string

const (
	PositionStatusSignaled     PositionStatus = "signaled"
	PositionStatusConfirmed    PositionStatus = "confirmed"
	PositionStatusAssumed      PositionStatus = "assumed"
	PositionStatusSkipped      PositionStatus = "skipped"
	PositionStatusMonitoring   PositionStatus = "monitoring"
	PositionStatusExitSignaled PositionStatus = "exit_signaled"
	PositionStatusClosed       PositionStatus = "closed"
)

// positionTransitions lists the allowed status edges. Closed and
// skipped are terminal.
var positionTransitions = map[PositionStatus][]PositionStatus{
	PositionStatusSignaled:     {PositionStatusConfirmed, PositionStatusAssumed, PositionStatusSkipped},
	PositionStatusConfirmed:    {PositionStatusMonitoring},
	PositionStatusAssumed:      {PositionStatusMonitoring},
	PositionStatusMonitoring:   {PositionStatusExitSignaled, PositionStatusClosed},
	PositionStatusExitSignaled: {PositionStatusClosed},
}

// Position is a tracked holding in either portfolio. Positions are
// keyed by (ticker, portfolio); at most one open position exists per
// key.
type Position struct {
	Ticker    string            `json:"ticker"`
	Direction PositionDirection `json:"direction"`
	Size      *float64          `json:"size,omitempty"`

	EntryPrice   float64  `json:"entry_price"`
	CurrentPrice *float64 `json:"current_price,omitempty"`
	PnL          *float64 `json:"pnl,omitempty"`
	PnLPercent   *float64 `json:"pnl_percent,omitempty"`

	Status    PositionStatus `json:"status"`
	Portfolio PortfolioType  `json:"portfolio"`
	SignalID  string         `json:"signal_id,omitempty"`

	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	ClosePrice         *float64   `json:"close_price,omitempty"`
	RealizedPnL        *float64   `json:"realized_pnl,omitempty"`
	RealizedPnLPercent *float64   `json:"realized_pnl_percent,omitempty"`

	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedVia string     `json:"confirmed_via,omitempty"`
	UserNotes    string     `json:"user_notes,omitempty"`
}

// CanTransition reports whether the status edge is allowed.
func (p Position) CanTransition(to PositionStatus) bool {
	for _, next := range positionTransitions[p.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the position to the new status or fails with
// ErrInvalidTransition.
func (p *Position) Transition(to PositionStatus) error {
	if !p.CanTransition(to) {
		return fmt.Errorf("%w: position %s/%s %s -> %s",
			ErrInvalidTransition, p.Portfolio, p.Ticker, p.Status, to)
	}
	p.Status = to
	return nil
}

// Open reports whether the position still counts toward exposure.
func (p Position) Open() bool {
	return p.Status != PositionStatusClosed && p.Status != PositionStatusSkipped
}

// MarketValue is the position's current worth, falling back to entry
// price when no quote has been seen yet. Unsized positions count as
// one unit.
func (p Position) MarketValue() float64 {
	price := p.EntryPrice
	if p.CurrentPrice != nil {
		price = *p.CurrentPrice
	}
	size := 1.0
	if p.Size != nil {
		size = *p.Size
	}
	return price * size
}

// UpdatePnL recalculates unrealized P&L from a fresh quote.
func (p *Position) UpdatePnL(currentPrice float64) {
	p.CurrentPrice = &currentPrice
	size := 1.0
	if p.Size != nil {
		size = *p.Size
	}
	var pnl float64
	if p.Direction == PositionLong {
		pnl = (currentPrice - p.EntryPrice) * size
	} else {
		pnl = (p.EntryPrice - currentPrice) * size
	}
	p.PnL = &pnl
	if p.EntryPrice != 0 {
		pct := pnl / (p.EntryPrice * size) * 100
		p.PnLPercent = &pct
	}
}

// ApplyClose records the exit fill and realizes P&L. The caller
// supplies closedAt so simulated runs control the clock.
func (p *Position) ApplyClose(closePrice float64, closedAt time.Time) {
	p.ClosePrice = &closePrice
	p.ClosedAt = &closedAt

	size := 1.0
	if p.Size != nil {
		size = *p.Size
	}
	var realized float64
	if p.Direction == PositionLong {
		realized = (closePrice - p.EntryPrice) * size
	} else {
		realized = (p.EntryPrice - closePrice) * size
	}
	p.RealizedPnL = &realized
	if p.EntryPrice != 0 {
		pct := realized / (p.EntryPrice * size) * 100
		p.RealizedPnLPercent = &pct
	}
}

// DirectionFromSignal maps a signal direction onto a position side.
func DirectionFromSignal(d SignalDirection) PositionDirection {
	if d == DirectionSell {
		return PositionShort
	}
	return PositionLong
}

// PortfolioSummary is an aggregate view of one portfolio's open
// positions, used by the risk gate and context assembly.
type PortfolioSummary struct {
	PortfolioType   PortfolioType `json:"portfolio_type"`
	TotalValue      float64       `json:"total_value"`
	Cash            float64       `json:"cash"`
	Positions       []Position    `json:"positions"`
	TotalPnL        float64       `json:"total_pnl"`
	TotalPnLPercent float64       `json:"total_pnl_percent"`
}

// OpenPosition returns the open position for a ticker, if any.
func (s PortfolioSummary) OpenPosition(ticker string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Ticker == ticker && p.Open() {
			return p, true
		}
	}
	return Position{}, false
}
