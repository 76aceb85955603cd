// Package memstore provides in-memory implementations of the queryable
// stores that normally live in Postgres. Simulation sandboxes use them
// so a backtest never touches production tables, and tests use them to
// avoid a database dependency.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MarketDataStore is an in-memory domain.MarketDataStore. Rows are kept
// sorted by timestamp per ticker; reads honour the asOf cutoff on
// AvailableAt exactly like the Postgres implementation.
type MarketDataStore struct {
	mu   sync.RWMutex
	rows map[string][]domain.MarketData // keyed by upper-cased ticker
}

// NewMarketDataStore returns an empty store.
func NewMarketDataStore() *MarketDataStore {
	return &MarketDataStore{rows: make(map[string][]domain.MarketData)}
}

var _ domain.MarketDataStore = (*MarketDataStore)(nil)

// SaveBatch stores the given points. Every point must carry a non-zero
// AvailableAt; a point observed at an unknown time could leak into the
// past of a simulation.
func (s *MarketDataStore) SaveBatch(ctx context.Context, points []domain.MarketData) (int, error) {
	for _, p := range points {
		if p.AvailableAt.IsZero() {
			return 0, fmt.Errorf("%w: market data %s@%s missing available_at",
				domain.ErrValidation, p.Ticker, p.Timestamp)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]bool)
	for _, p := range points {
		key := strings.ToUpper(p.Ticker)
		s.rows[key] = append(s.rows[key], p)
		touched[key] = true
	}
	for key := range touched {
		rows := s.rows[key]
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
	}
	return len(points), nil
}

// Query returns up to limit points for a ticker whose AvailableAt is not
// after asOf, most recent timestamp first.
func (s *MarketDataStore) Query(ctx context.Context, ticker string, asOf time.Time, limit int) ([]domain.MarketData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[strings.ToUpper(ticker)]

	var out []domain.MarketData
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].AvailableAt.After(asOf) {
			continue
		}
		out = append(out, rows[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LatestPrice returns the close of the most recent point visible at asOf,
// or domain.ErrNotFound when the ticker has no visible data.
func (s *MarketDataStore) LatestPrice(ctx context.Context, ticker string, asOf time.Time) (float64, error) {
	points, err := s.Query(ctx, ticker, asOf, 1)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("memstore: latest price %s: %w", ticker, domain.ErrNotFound)
	}
	return points[0].Close, nil
}

// MemoryIndex is an in-memory domain.MemoryIndex with the same matching
// semantics as the Postgres index: a memory matches on ticker tag, on
// tag overlap, or unconditionally when the query names neither.
type MemoryIndex struct {
	mu       sync.RWMutex
	memories []domain.Memory
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

var _ domain.MemoryIndex = (*MemoryIndex)(nil)

// tickerTag prefixes ticker tags in the index, matching the convention
// the divergence service uses when tagging memories.
const tickerTag = "ticker:"

// Index adds or replaces a memory in the index.
func (ix *MemoryIndex) Index(ctx context.Context, mem domain.Memory) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, existing := range ix.memories {
		if existing.ID == mem.ID {
			ix.memories[i] = mem
			return nil
		}
	}
	ix.memories = append(ix.memories, mem)
	return nil
}

// Search returns matching memory IDs, most recent first.
func (ix *MemoryIndex) Search(ctx context.Context, q domain.MemoryQuery) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matched := make([]domain.Memory, 0)
	for _, mem := range ix.memories {
		if q.Since != nil && mem.CreatedAt.Before(*q.Since) {
			continue
		}
		if !matches(mem, q) {
			continue
		}
		matched = append(matched, mem)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	ids := make([]string, 0, len(matched))
	for _, mem := range matched {
		ids = append(ids, mem.ID)
		if q.Limit > 0 && len(ids) >= q.Limit {
			break
		}
	}
	return ids, nil
}

// DuplicateExists reports whether a memory already records the given
// divergence for a signal.
func (ix *MemoryIndex) DuplicateExists(ctx context.Context, signalID string, divergence domain.DivergenceType) (bool, error) {
	if signalID == "" {
		return false, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for _, mem := range ix.memories {
		if mem.SignalID == signalID && mem.DivergenceType == divergence {
			return true, nil
		}
	}
	return false, nil
}

func matches(mem domain.Memory, q domain.MemoryQuery) bool {
	if q.Ticker == "" && len(q.Tags) == 0 {
		return true
	}

	if q.Ticker != "" {
		want := tickerTag + strings.ToUpper(q.Ticker)
		for _, tag := range mem.Tags {
			if strings.EqualFold(tag, want) {
				return true
			}
		}
	}

	for _, qt := range q.Tags {
		for _, tag := range mem.Tags {
			if strings.EqualFold(tag, qt) {
				return true
			}
		}
	}
	return false
}
