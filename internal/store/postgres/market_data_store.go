package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MarketDataStore implements domain.MarketDataStore using PostgreSQL.
// Every read takes an asOf cutoff applied to available_at so a
// simulated run can never observe data the pipeline would not have had
// at its cursor time.
type MarketDataStore struct {
	pool *pgxpool.Pool
}

// NewMarketDataStore creates a new MarketDataStore backed by the given
// connection pool.
func NewMarketDataStore(pool *pgxpool.Pool) *MarketDataStore {
	return &MarketDataStore{pool: pool}
}

var _ domain.MarketDataStore = (*MarketDataStore)(nil)

// SaveBatch upserts data points keyed by (ticker, timestamp, source) in
// a single batch operation and returns the number of rows written.
// Records with a zero AvailableAt are rejected rather than defaulted:
// the field is what keeps replay honest.
func (s *MarketDataStore) SaveBatch(ctx context.Context, data []domain.MarketData) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO market_data (
			ticker, ts, available_at, open, high, low, close, volume,
			source, data_type, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ticker, ts, source) DO UPDATE SET
			available_at = EXCLUDED.available_at,
			open         = EXCLUDED.open,
			high         = EXCLUDED.high,
			low          = EXCLUDED.low,
			close        = EXCLUDED.close,
			volume       = EXCLUDED.volume,
			data_type    = EXCLUDED.data_type,
			metadata     = EXCLUDED.metadata`

	batch := &pgx.Batch{}
	for i, d := range data {
		if d.AvailableAt.IsZero() {
			return 0, fmt.Errorf("postgres: %w: market data item %d (%s) missing available_at",
				domain.ErrValidation, i, d.Ticker)
		}
		batch.Queue(query,
			d.Ticker, d.Timestamp.UTC(), d.AvailableAt.UTC(),
			d.Open, d.High, d.Low, d.Close, d.Volume,
			d.Source, d.DataType, d.Metadata,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range data {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("postgres: save market data batch item %d: %w", i, err)
		}
	}
	return len(data), nil
}

// Query returns data points for a ticker visible at asOf, newest first,
// up to limit rows. A zero asOf means no cutoff (production reads pass
// the gate's current time explicitly).
func (s *MarketDataStore) Query(ctx context.Context, ticker string, asOf time.Time, limit int) ([]domain.MarketData, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT ticker, ts, available_at, open, high, low, close, volume,
		       source, data_type, metadata
		FROM market_data
		WHERE ticker = $1
		  AND ($2::timestamptz IS NULL OR available_at <= $2)
		ORDER BY ts DESC
		LIMIT $3`

	var cutoff *time.Time
	if !asOf.IsZero() {
		t := asOf.UTC()
		cutoff = &t
	}

	rows, err := s.pool.Query(ctx, query, ticker, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query market data %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []domain.MarketData
	for rows.Next() {
		var d domain.MarketData
		if err := rows.Scan(
			&d.Ticker, &d.Timestamp, &d.AvailableAt,
			&d.Open, &d.High, &d.Low, &d.Close, &d.Volume,
			&d.Source, &d.DataType, &d.Metadata,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan market data row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate market data rows: %w", err)
	}
	return out, nil
}

// LatestPrice returns the most recent close for a ticker visible at
// asOf, or domain.ErrNotFound when no visible data exists.
func (s *MarketDataStore) LatestPrice(ctx context.Context, ticker string, asOf time.Time) (float64, error) {
	const query = `
		SELECT close
		FROM market_data
		WHERE ticker = $1
		  AND ($2::timestamptz IS NULL OR available_at <= $2)
		ORDER BY ts DESC
		LIMIT 1`

	var cutoff *time.Time
	if !asOf.IsZero() {
		t := asOf.UTC()
		cutoff = &t
	}

	var price float64
	err := s.pool.QueryRow(ctx, query, ticker, cutoff).Scan(&price)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("postgres: price %s as of %s: %w",
				ticker, asOf.Format(time.RFC3339), domain.ErrNotFound)
		}
		return 0, fmt.Errorf("postgres: latest price %s: %w", ticker, err)
	}
	return price, nil
}
