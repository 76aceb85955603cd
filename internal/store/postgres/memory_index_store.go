package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MemoryIndexStore implements domain.MemoryIndex using PostgreSQL. The
// full memory records live as JSON files; this table exists so the
// relevance query (ticker, tags, recency) stays fast as memories
// accumulate.
type MemoryIndexStore struct {
	pool *pgxpool.Pool
}

// NewMemoryIndexStore creates a new MemoryIndexStore backed by the
// given connection pool.
func NewMemoryIndexStore(pool *pgxpool.Pool) *MemoryIndexStore {
	return &MemoryIndexStore{pool: pool}
}

var _ domain.MemoryIndex = (*MemoryIndexStore)(nil)

// tickerTag is the tag prefix under which a memory's ticker is indexed.
// The divergence service tags every memory with its ticker so the
// relevance query can match on either field.
const tickerTag = "ticker:"

// Index upserts the searchable metadata for one memory.
func (s *MemoryIndexStore) Index(ctx context.Context, mem domain.Memory) error {
	ticker := tickerFromTags(mem.Tags)

	const query = `
		INSERT INTO memory_index (
			memory_id, ticker, tags, signal_id, divergence_type,
			who_was_right, confidence_impact, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (memory_id) DO UPDATE SET
			ticker            = EXCLUDED.ticker,
			tags              = EXCLUDED.tags,
			who_was_right     = EXCLUDED.who_was_right,
			confidence_impact = EXCLUDED.confidence_impact`

	_, err := s.pool.Exec(ctx, query,
		mem.ID, ticker, mem.Tags, mem.SignalID, string(mem.DivergenceType),
		string(mem.WhoWasRight), mem.ConfidenceImpact, mem.Source, mem.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: index memory %s: %w", mem.ID, err)
	}
	return nil
}

// Search returns memory IDs matching the query, newest first. Ticker
// and tags are OR'd together, so either match makes a memory relevant,
// while the recency window always applies.
func (s *MemoryIndexStore) Search(ctx context.Context, q domain.MemoryQuery) ([]string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	const query = `
		SELECT memory_id
		FROM memory_index
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND (
			($2::text != '' AND ticker = $2)
			OR (cardinality($3::text[]) > 0 AND tags && $3)
			OR ($2::text = '' AND cardinality($3::text[]) = 0)
		  )
		ORDER BY created_at DESC
		LIMIT $4`

	var since *time.Time
	if q.Since != nil {
		t := q.Since.UTC()
		since = &t
	}
	tags := q.Tags
	if tags == nil {
		tags = []string{}
	}

	rows, err := s.pool.Query(ctx, query, since, q.Ticker, tags, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memory index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan memory index row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate memory index rows: %w", err)
	}
	return ids, nil
}

// DuplicateExists reports whether a memory already covers the given
// (signal, divergence type) pair. Used to guarantee one lesson per
// resolved divergence.
func (s *MemoryIndexStore) DuplicateExists(ctx context.Context, signalID string, divergence domain.DivergenceType) (bool, error) {
	if signalID == "" {
		return false, nil
	}
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM memory_index
			WHERE signal_id = $1 AND divergence_type = $2
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, signalID, string(divergence)).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check duplicate memory: %w", err)
	}
	return exists, nil
}

func tickerFromTags(tags []string) string {
	for _, t := range tags {
		if len(t) > len(tickerTag) && t[:len(tickerTag)] == tickerTag {
			return t[len(tickerTag):]
		}
	}
	return ""
}
