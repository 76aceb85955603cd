package fsstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tessera-trading/advisor/internal/domain"
)

// PositionStore implements domain.PositionStore on JSON files. One
// file per (portfolio, ticker) so a book can never hold two open
// positions in the same ticker.
type PositionStore struct {
	dir string
}

// NewPositionStore creates a store rooted at the given directory.
func NewPositionStore(dir string) *PositionStore {
	return &PositionStore{dir: dir}
}

var _ domain.PositionStore = (*PositionStore)(nil)

func (s *PositionStore) path(portfolio domain.PortfolioType, ticker string) string {
	return filepath.Join(s.dir, string(portfolio), strings.ToUpper(ticker)+".json")
}

// Put writes the position, replacing any previous version for the
// same (portfolio, ticker).
func (s *PositionStore) Put(_ context.Context, pos domain.Position) error {
	if pos.Ticker == "" || pos.Portfolio == "" {
		return fmt.Errorf("fsstore: %w: position ticker and portfolio required", domain.ErrValidation)
	}
	return writeJSON(s.path(pos.Portfolio, pos.Ticker), pos)
}

// Get returns the position for a (portfolio, ticker) or
// domain.ErrNotFound.
func (s *PositionStore) Get(_ context.Context, portfolio domain.PortfolioType, ticker string) (domain.Position, error) {
	pos, ok, err := readJSON[domain.Position](s.path(portfolio, ticker))
	if err != nil {
		return domain.Position{}, err
	}
	if !ok {
		return domain.Position{}, fmt.Errorf("fsstore: position %s/%s: %w", portfolio, ticker, domain.ErrNotFound)
	}
	return pos, nil
}

// List returns every position in one portfolio.
func (s *PositionStore) List(_ context.Context, portfolio domain.PortfolioType) ([]domain.Position, error) {
	return listJSON[domain.Position](filepath.Join(s.dir, string(portfolio)))
}
