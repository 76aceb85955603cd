package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
)

// gatedMarket rejects reads that reach past the simulation cursor. The
// stores already filter bars on available_at, so a future as-of would
// quietly return stale-but-valid data; failing loudly instead turns a
// wiring mistake into an aborted run rather than a subtly optimistic
// backtest.
type gatedMarket struct {
	inner domain.MarketDataStore
	gate  clock.Gate
}

func newGatedMarket(inner domain.MarketDataStore, gate clock.Gate) *gatedMarket {
	return &gatedMarket{inner: inner, gate: gate}
}

var _ domain.MarketDataStore = (*gatedMarket)(nil)

func (g *gatedMarket) SaveBatch(ctx context.Context, data []domain.MarketData) (int, error) {
	return g.inner.SaveBatch(ctx, data)
}

func (g *gatedMarket) Query(ctx context.Context, ticker string, asOf time.Time, limit int) ([]domain.MarketData, error) {
	if err := g.check(ticker, asOf); err != nil {
		return nil, err
	}
	return g.inner.Query(ctx, ticker, asOf, limit)
}

func (g *gatedMarket) LatestPrice(ctx context.Context, ticker string, asOf time.Time) (float64, error) {
	if err := g.check(ticker, asOf); err != nil {
		return 0, err
	}
	return g.inner.LatestPrice(ctx, ticker, asOf)
}

func (g *gatedMarket) check(ticker string, asOf time.Time) error {
	if now := g.gate.Now(); asOf.After(now) {
		return fmt.Errorf("%w: %s as of %s is past the simulation cursor %s",
			domain.ErrLookahead, ticker,
			asOf.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return nil
}
