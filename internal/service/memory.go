package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tessera-trading/advisor/internal/clock"
	"github.com/tessera-trading/advisor/internal/config"
	"github.com/tessera-trading/advisor/internal/domain"
)

// MemoryRetriever surfaces past lessons for new decisions. Retrieval
// is enrichment only: every failure degrades to an empty result so the
// decision path never blocks on the memory subsystem.
type MemoryRetriever struct {
	memories domain.MemoryStore
	index    domain.MemoryIndex
	gate     clock.Gate

	window time.Duration
	limit  int
	logger *slog.Logger
}

// NewMemoryRetriever creates a retriever using the learning config's
// relevance window and context cap.
func NewMemoryRetriever(
	memories domain.MemoryStore,
	index domain.MemoryIndex,
	gate clock.Gate,
	cfg config.LearningConfig,
	logger *slog.Logger,
) *MemoryRetriever {
	window := cfg.MemoryRelevanceWindow.Duration
	if window <= 0 {
		window = 90 * 24 * time.Hour
	}
	limit := cfg.MaxMemoriesInContext
	if limit <= 0 {
		limit = 10
	}
	return &MemoryRetriever{
		memories: memories,
		index:    index,
		gate:     gate,
		window:   window,
		limit:    limit,
		logger:   logger.With(slog.String("component", "memory")),
	}
}

// Relevant returns the most recent lessons matching the ticker or tags
// inside the relevance window, newest first. Each returned memory has
// its reference counter bumped so heavily used lessons are visible.
func (r *MemoryRetriever) Relevant(ctx context.Context, ticker string, tags []string) []domain.Memory {
	since := r.gate.Now().Add(-r.window)
	ids, err := r.index.Search(ctx, domain.MemoryQuery{
		Ticker: ticker,
		Tags:   tags,
		Since:  &since,
		Limit:  r.limit,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "memory search failed", slog.Any("error", err))
		return nil
	}

	out := make([]domain.Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := r.memories.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				r.logger.WarnContext(ctx, "memory load failed",
					slog.String("memory_id", id), slog.Any("error", err))
			}
			continue
		}
		out = append(out, mem)
	}

	r.markReferenced(ctx, out)
	return out
}

// markReferenced bumps the reference counters. Failures are logged and
// swallowed; the counter is bookkeeping, not state the decision needs.
func (r *MemoryRetriever) markReferenced(ctx context.Context, memories []domain.Memory) {
	for i := range memories {
		memories[i].ReferencedInDecisions++
		if err := r.memories.Put(ctx, memories[i]); err != nil {
			r.logger.WarnContext(ctx, "failed to bump memory reference count",
				slog.String("memory_id", memories[i].ID), slog.Any("error", err))
		}
	}
}
