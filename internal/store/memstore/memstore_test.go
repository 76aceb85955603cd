package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-trading/advisor/internal/domain"
)

var baseTime = time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)

func bar(ticker string, offset time.Duration, close float64) domain.MarketData {
	at := baseTime.Add(offset)
	return domain.MarketData{Ticker: ticker, Timestamp: at, AvailableAt: at, Close: close}
}

func TestSaveBatchRequiresAvailableAt(t *testing.T) {
	s := NewMarketDataStore()
	_, err := s.SaveBatch(context.Background(), []domain.MarketData{
		{Ticker: "NVDA", Timestamp: baseTime, Close: 100},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestQueryHonoursVisibility(t *testing.T) {
	s := NewMarketDataStore()
	ctx := context.Background()

	n, err := s.SaveBatch(ctx, []domain.MarketData{
		bar("nvda", 0, 100),
		bar("NVDA", 24*time.Hour, 110),
		bar("NVDA", 48*time.Hour, 120),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Only the first two bars are visible a day in.
	points, err := s.Query(ctx, "NVDA", baseTime.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 110.0, points[0].Close, "most recent first")
	assert.Equal(t, 100.0, points[1].Close)

	// Limit trims from the newest end.
	points, err = s.Query(ctx, "nvda", baseTime.Add(72*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 120.0, points[0].Close)
	assert.Equal(t, 110.0, points[1].Close)
}

func TestQueryUnknownTickerIsEmpty(t *testing.T) {
	s := NewMarketDataStore()
	points, err := s.Query(context.Background(), "TSLA", baseTime, 10)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestLatestPrice(t *testing.T) {
	s := NewMarketDataStore()
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, []domain.MarketData{
		bar("NVDA", 0, 100),
		bar("NVDA", 24*time.Hour, 110),
	})
	require.NoError(t, err)

	price, err := s.LatestPrice(ctx, "nvda", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	// Before any bar is visible the ticker does not exist yet.
	_, err = s.LatestPrice(ctx, "NVDA", baseTime.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveBatchKeepsRowsSorted(t *testing.T) {
	s := NewMarketDataStore()
	ctx := context.Background()

	// Out-of-order ingestion still reads back newest first.
	_, err := s.SaveBatch(ctx, []domain.MarketData{
		bar("NVDA", 48*time.Hour, 120),
		bar("NVDA", 0, 100),
		bar("NVDA", 24*time.Hour, 110),
	})
	require.NoError(t, err)

	points, err := s.Query(ctx, "NVDA", baseTime.Add(72*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 120.0, points[0].Close)
	assert.Equal(t, 100.0, points[2].Close)
}

func testMemory(id, signalID string, createdAt time.Time, tags ...string) domain.Memory {
	return domain.Memory{
		ID:             id,
		SignalID:       signalID,
		DivergenceType: domain.DivergenceHumanSkipped,
		CreatedAt:      createdAt,
		Tags:           tags,
	}
}

func TestSearchMatchesTickerTag(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, testMemory("mem_1", "sig_1", baseTime, "ticker:NVDA", "human_skipped")))
	require.NoError(t, ix.Index(ctx, testMemory("mem_2", "sig_2", baseTime.Add(time.Hour), "ticker:TSLA", "earnings")))

	ids, err := ix.Search(ctx, domain.MemoryQuery{Ticker: "nvda"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_1"}, ids)

	ids, err = ix.Search(ctx, domain.MemoryQuery{Tags: []string{"earnings"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_2"}, ids)

	ids, err = ix.Search(ctx, domain.MemoryQuery{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchWithoutFiltersReturnsEverything(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, testMemory("mem_old", "sig_1", baseTime, "ticker:NVDA")))
	require.NoError(t, ix.Index(ctx, testMemory("mem_new", "sig_2", baseTime.Add(time.Hour), "ticker:TSLA")))

	ids, err := ix.Search(ctx, domain.MemoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_new", "mem_old"}, ids, "most recent first")

	since := baseTime.Add(30 * time.Minute)
	ids, err = ix.Search(ctx, domain.MemoryQuery{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_new"}, ids)

	ids, err = ix.Search(ctx, domain.MemoryQuery{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_new"}, ids)
}

func TestIndexReplacesByID(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, testMemory("mem_1", "sig_1", baseTime, "ticker:NVDA")))
	require.NoError(t, ix.Index(ctx, testMemory("mem_1", "sig_1", baseTime, "ticker:TSLA")))

	ids, err := ix.Search(ctx, domain.MemoryQuery{Ticker: "NVDA"})
	require.NoError(t, err)
	assert.Empty(t, ids, "reindexing replaces the old tags")

	ids, err = ix.Search(ctx, domain.MemoryQuery{Ticker: "TSLA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mem_1"}, ids)
}

func TestDuplicateExists(t *testing.T) {
	ix := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, ix.Index(ctx, testMemory("mem_1", "sig_1", baseTime, "ticker:NVDA")))

	dup, err := ix.DuplicateExists(ctx, "sig_1", domain.DivergenceHumanSkipped)
	require.NoError(t, err)
	assert.True(t, dup)

	// Same signal, different divergence type.
	dup, err = ix.DuplicateExists(ctx, "sig_1", domain.DivergenceTiming)
	require.NoError(t, err)
	assert.False(t, dup)

	// Empty signal IDs never collide.
	dup, err = ix.DuplicateExists(ctx, "", domain.DivergenceHumanSkipped)
	require.NoError(t, err)
	assert.False(t, dup)
}
