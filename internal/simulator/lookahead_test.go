package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/domain"
	"github.com/tessera-trading/advisor/internal/store/memstore"
)

func TestGatedMarketRejectsReadsPastCursor(t *testing.T) {
	ctx := context.Background()
	cursor := time.Date(2024, 3, 5, 21, 0, 0, 0, time.UTC)
	gate := clock.NewSimulation(cursor, "run-1")

	inner := memstore.NewMarketDataStore()
	bar := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	_, err := inner.SaveBatch(ctx, []domain.MarketData{{
		Ticker:      "NVDA",
		Timestamp:   bar,
		AvailableAt: bar,
		Close:       880,
	}})
	require.NoError(t, err)

	market := newGatedMarket(inner, gate)

	bars, err := market.Query(ctx, "NVDA", cursor, 10)
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = market.Query(ctx, "NVDA", cursor.Add(time.Minute), 10)
	assert.ErrorIs(t, err, domain.ErrLookahead)
	_, err = market.LatestPrice(ctx, "NVDA", cursor.Add(24*time.Hour))
	assert.ErrorIs(t, err, domain.ErrLookahead)

	// Advancing the cursor makes the same as-of legal.
	require.NoError(t, gate.AdvanceTo(cursor.Add(24*time.Hour)))
	price, err := market.LatestPrice(ctx, "NVDA", cursor.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 880.0, price)
}
