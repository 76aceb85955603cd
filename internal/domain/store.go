package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists signals through their lifecycle.
type SignalStore interface {
	Put(ctx context.Context, sig Signal) error
	Get(ctx context.Context, id string) (Signal, error)
	List(ctx context.Context, opts ListOpts) ([]Signal, error)
	ListAwaitingConfirmation(ctx context.Context) ([]Signal, error)
}

// PositionStore persists positions keyed by (portfolio, ticker).
type PositionStore interface {
	Put(ctx context.Context, pos Position) error
	Get(ctx context.Context, portfolio PortfolioType, ticker string) (Position, error)
	List(ctx context.Context, portfolio PortfolioType) ([]Position, error)
}

// MemoryStore persists divergence lessons.
type MemoryStore interface {
	Put(ctx context.Context, mem Memory) error
	Get(ctx context.Context, id string) (Memory, error)
	List(ctx context.Context, opts ListOpts) ([]Memory, error)
}

// MemoryQuery filters the memory index.
type MemoryQuery struct {
	Ticker string
	Tags   []string
	Since  *time.Time
	Limit  int
}

// MemoryIndex answers fast lookups over memory metadata. Full records
// live in the MemoryStore; the index returns matching IDs.
type MemoryIndex interface {
	Index(ctx context.Context, mem Memory) error
	Search(ctx context.Context, q MemoryQuery) ([]string, error)
	DuplicateExists(ctx context.Context, signalID string, divergence DivergenceType) (bool, error)
}

// TaskStore persists scheduled task definitions.
type TaskStore interface {
	Put(ctx context.Context, task Task) error
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context) ([]Task, error)
	Delete(ctx context.Context, id string) error
}

// SimulationStore persists backtest run records.
type SimulationStore interface {
	Put(ctx context.Context, run SimulationRun) error
	Get(ctx context.Context, id string) (SimulationRun, error)
	List(ctx context.Context, opts ListOpts) ([]SimulationRun, error)
}

// MemoStore persists analysis memos.
type MemoStore interface {
	Put(ctx context.Context, memo Memo) error
	Get(ctx context.Context, id string) (Memo, error)
}

// MarketDataStore persists observed market data. Read methods take an
// asOf cutoff applied to AvailableAt; a zero asOf means no cutoff.
type MarketDataStore interface {
	SaveBatch(ctx context.Context, data []MarketData) (int, error)
	Query(ctx context.Context, ticker string, asOf time.Time, limit int) ([]MarketData, error)
	LatestPrice(ctx context.Context, ticker string, asOf time.Time) (float64, error)
}
