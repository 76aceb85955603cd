// Package portfolio maintains the two mirrored books: the paper
// portfolio that takes every approved signal, and the human portfolio
// that only reflects what the user reports. Divergence between the two
// is the raw material for the weekly review.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
)

// Tracker reads and mutates the dual portfolio state. All timestamps
// come from the gate so simulated runs replay identically.
type Tracker struct {
	positions domain.PositionStore
	market    domain.MarketDataStore
	gate      clock.Gate
	logger    *slog.Logger
}

// NewTracker creates a Tracker. market may be nil when no quote source
// is configured; summaries then value positions at entry price.
func NewTracker(positions domain.PositionStore, market domain.MarketDataStore, gate clock.Gate, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: positions,
		market:    market,
		gate:      gate,
		logger:    logger.With(slog.String("component", "portfolio")),
	}
}

// Summary builds an aggregate view of one portfolio's open positions.
func (t *Tracker) Summary(ctx context.Context, portfolio domain.PortfolioType) (domain.PortfolioSummary, error) {
	all, err := t.positions.List(ctx, portfolio)
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio: list %s: %w", portfolio, err)
	}

	var open []domain.Position
	var totalValue, totalPnL float64
	for _, p := range all {
		if !p.Open() {
			continue
		}
		open = append(open, p)
		totalValue += p.MarketValue()
		if p.PnL != nil {
			totalPnL += *p.PnL
		}
	}

	summary := domain.PortfolioSummary{
		PortfolioType: portfolio,
		TotalValue:    totalValue,
		Positions:     open,
		TotalPnL:      totalPnL,
	}
	if totalValue != 0 {
		summary.TotalPnLPercent = totalPnL / totalValue * 100
	}
	return summary, nil
}

// Position returns the tracked position for a ticker, or
// domain.ErrNotFound.
func (t *Tracker) Position(ctx context.Context, portfolio domain.PortfolioType, ticker string) (domain.Position, error) {
	return t.positions.Get(ctx, portfolio, strings.ToUpper(ticker))
}

// OpenPaper opens a monitoring position in the paper portfolio for an
// approved signal. The paper book takes every approved signal at its
// entry target, so the review later has a counterfactual to compare
// against.
func (t *Tracker) OpenPaper(ctx context.Context, signal domain.Signal) (domain.Position, error) {
	entry := 0.0
	if signal.EntryTarget != nil {
		entry = *signal.EntryTarget
	}

	pos := domain.Position{
		Ticker:     signal.Ticker,
		Direction:  domain.DirectionFromSignal(signal.Direction),
		EntryPrice: entry,
		Status:     domain.PositionStatusMonitoring,
		Portfolio:  domain.PortfolioAI,
		SignalID:   signal.ID,
		OpenedAt:   t.gate.Now(),
	}
	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: open paper %s: %w", signal.Ticker, err)
	}

	t.logger.InfoContext(ctx, "paper position opened",
		slog.String("ticker", pos.Ticker),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	return pos, nil
}

// ClosePaper closes the paper position for a ticker at the given price.
func (t *Tracker) ClosePaper(ctx context.Context, ticker string, closePrice float64) (domain.Position, error) {
	return t.close(ctx, domain.PortfolioAI, ticker, closePrice, "")
}

// ConfirmHuman records that the user took the trade a signal proposed.
func (t *Tracker) ConfirmHuman(ctx context.Context, signal domain.Signal, entryPrice float64, size *float64, via, notes string) (domain.Position, error) {
	now := t.gate.Now()
	pos := domain.Position{
		Ticker:       signal.Ticker,
		Direction:    domain.DirectionFromSignal(signal.Direction),
		Size:         size,
		EntryPrice:   entryPrice,
		Status:       domain.PositionStatusConfirmed,
		Portfolio:    domain.PortfolioHuman,
		SignalID:     signal.ID,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: confirm %s: %w", signal.Ticker, err)
	}

	t.logger.InfoContext(ctx, "human position confirmed",
		slog.String("ticker", pos.Ticker),
		slog.Float64("entry_price", entryPrice),
		slog.String("via", via),
	)
	return pos, nil
}

// AssumeHuman records a monitoring position for a delivered signal the
// user never answered. ConfirmedVia stays empty: nobody actually told us.
func (t *Tracker) AssumeHuman(ctx context.Context, signal domain.Signal) (domain.Position, error) {
	entry := 0.0
	if signal.EntryTarget != nil {
		entry = *signal.EntryTarget
	}
	now := t.gate.Now()
	pos := domain.Position{
		Ticker:     signal.Ticker,
		Direction:  domain.DirectionFromSignal(signal.Direction),
		EntryPrice: entry,
		Status:     domain.PositionStatusAssumed,
		Portfolio:  domain.PortfolioHuman,
		SignalID:   signal.ID,
		OpenedAt:   now,
	}
	if err := pos.Transition(domain.PositionStatusMonitoring); err != nil {
		return domain.Position{}, err
	}
	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: assume %s: %w", signal.Ticker, err)
	}

	t.logger.InfoContext(ctx, "human position assumed",
		slog.String("ticker", pos.Ticker),
		slog.String("signal_id", signal.ID),
	)
	return pos, nil
}

// SkipHuman records that the user explicitly declined a signal.
func (t *Tracker) SkipHuman(ctx context.Context, signal domain.Signal, via, notes string) (domain.Position, error) {
	entry := 0.0
	if signal.EntryTarget != nil {
		entry = *signal.EntryTarget
	}
	now := t.gate.Now()
	pos := domain.Position{
		Ticker:       signal.Ticker,
		Direction:    domain.DirectionFromSignal(signal.Direction),
		EntryPrice:   entry,
		Status:       domain.PositionStatusSkipped,
		Portfolio:    domain.PortfolioHuman,
		SignalID:     signal.ID,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: skip %s: %w", signal.Ticker, err)
	}

	t.logger.InfoContext(ctx, "signal skipped by user",
		slog.String("ticker", pos.Ticker),
		slog.String("notes", notes),
	)
	return pos, nil
}

// RecordHumanTrade records a trade the user took without any signal.
func (t *Tracker) RecordHumanTrade(ctx context.Context, ticker string, direction domain.PositionDirection, entryPrice float64, size *float64, via, notes string) (domain.Position, error) {
	now := t.gate.Now()
	pos := domain.Position{
		Ticker:       strings.ToUpper(ticker),
		Direction:    direction,
		Size:         size,
		EntryPrice:   entryPrice,
		Status:       domain.PositionStatusConfirmed,
		Portfolio:    domain.PortfolioHuman,
		OpenedAt:     now,
		ConfirmedAt:  &now,
		ConfirmedVia: via,
		UserNotes:    notes,
	}
	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: record human trade %s: %w", ticker, err)
	}

	t.logger.InfoContext(ctx, "human-initiated trade recorded",
		slog.String("ticker", pos.Ticker),
		slog.String("direction", string(direction)),
		slog.Float64("entry_price", entryPrice),
	)
	return pos, nil
}

// CloseHuman closes the user's position for a ticker at the reported price.
func (t *Tracker) CloseHuman(ctx context.Context, ticker string, closePrice float64, via string) (domain.Position, error) {
	return t.close(ctx, domain.PortfolioHuman, ticker, closePrice, via)
}

func (t *Tracker) close(ctx context.Context, portfolio domain.PortfolioType, ticker string, closePrice float64, via string) (domain.Position, error) {
	pos, err := t.positions.Get(ctx, portfolio, strings.ToUpper(ticker))
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: close %s/%s: %w", portfolio, ticker, err)
	}
	if !pos.Open() {
		return domain.Position{}, fmt.Errorf("%w: position %s/%s already %s",
			domain.ErrInvalidTransition, portfolio, ticker, pos.Status)
	}

	if err := pos.Transition(domain.PositionStatusClosed); err != nil {
		return domain.Position{}, err
	}
	pos.ApplyClose(closePrice, t.gate.Now())
	if via != "" {
		pos.ConfirmedVia = via
	}

	if err := t.positions.Put(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: close %s/%s: %w", portfolio, ticker, err)
	}

	realized := 0.0
	if pos.RealizedPnL != nil {
		realized = *pos.RealizedPnL
	}
	t.logger.InfoContext(ctx, "position closed",
		slog.String("portfolio", string(portfolio)),
		slog.String("ticker", pos.Ticker),
		slog.Float64("close_price", closePrice),
		slog.Float64("realized_pnl", realized),
	)
	return pos, nil
}

// BeginMonitoring advances every confirmed or assumed position in a
// portfolio into the monitoring state. The monitor loop calls this on
// each pass so fresh entries start accruing exit checks.
func (t *Tracker) BeginMonitoring(ctx context.Context, portfolio domain.PortfolioType) (int, error) {
	all, err := t.positions.List(ctx, portfolio)
	if err != nil {
		return 0, fmt.Errorf("portfolio: begin monitoring %s: %w", portfolio, err)
	}

	advanced := 0
	for _, pos := range all {
		if pos.Status != domain.PositionStatusConfirmed && pos.Status != domain.PositionStatusAssumed {
			continue
		}
		if err := pos.Transition(domain.PositionStatusMonitoring); err != nil {
			return advanced, err
		}
		if err := t.positions.Put(ctx, pos); err != nil {
			return advanced, fmt.Errorf("portfolio: begin monitoring %s/%s: %w", portfolio, pos.Ticker, err)
		}
		advanced++
	}
	return advanced, nil
}

// MarkToMarket refreshes unrealized P&L for every open position in a
// portfolio from the latest quote visible at the gate's current time.
// Tickers with no visible quote are left untouched.
func (t *Tracker) MarkToMarket(ctx context.Context, portfolio domain.PortfolioType) (int, error) {
	if t.market == nil {
		return 0, nil
	}

	all, err := t.positions.List(ctx, portfolio)
	if err != nil {
		return 0, fmt.Errorf("portfolio: mark to market %s: %w", portfolio, err)
	}

	asOf := t.gate.Now()
	updated := 0
	for _, pos := range all {
		if !pos.Open() {
			continue
		}

		price, err := t.market.LatestPrice(ctx, pos.Ticker, asOf)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return updated, fmt.Errorf("portfolio: quote %s: %w", pos.Ticker, err)
		}

		pos.UpdatePnL(price)
		if err := t.positions.Put(ctx, pos); err != nil {
			return updated, fmt.Errorf("portfolio: mark to market %s/%s: %w", portfolio, pos.Ticker, err)
		}
		updated++
	}

	return updated, nil
}
