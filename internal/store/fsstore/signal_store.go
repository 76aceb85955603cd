package fsstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tessera-trading/advisor/internal/domain"
)

// SignalStore implements domain.SignalStore on JSON files, one per
// signal.
type SignalStore struct {
	dir string
}

// NewSignalStore creates a store rooted at the given directory.
func NewSignalStore(dir string) *SignalStore {
	return &SignalStore{dir: dir}
}

var _ domain.SignalStore = (*SignalStore)(nil)

func (s *SignalStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the signal, replacing any previous version.
func (s *SignalStore) Put(_ context.Context, sig domain.Signal) error {
	if sig.ID == "" {
		return fmt.Errorf("fsstore: %w: signal id required", domain.ErrValidation)
	}
	return writeJSON(s.path(sig.ID), sig)
}

// Get returns one signal or domain.ErrNotFound.
func (s *SignalStore) Get(_ context.Context, id string) (domain.Signal, error) {
	sig, ok, err := readJSON[domain.Signal](s.path(id))
	if err != nil {
		return domain.Signal{}, err
	}
	if !ok {
		return domain.Signal{}, fmt.Errorf("fsstore: signal %s: %w", id, domain.ErrNotFound)
	}
	return sig, nil
}

// List returns signals newest first, filtered by opts.
func (s *SignalStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Signal, error) {
	signals, err := listJSON[domain.Signal](s.dir)
	if err != nil {
		return nil, err
	}

	filtered := signals[:0]
	for _, sig := range signals {
		if opts.Since != nil && sig.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && sig.CreatedAt.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, sig)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// ListAwaitingConfirmation returns delivered signals the human has not
// answered yet.
func (s *SignalStore) ListAwaitingConfirmation(_ context.Context) ([]domain.Signal, error) {
	signals, err := listJSON[domain.Signal](s.dir)
	if err != nil {
		return nil, err
	}
	var pending []domain.Signal
	for _, sig := range signals {
		if sig.AwaitingConfirmation() {
			pending = append(pending, sig)
		}
	}
	return pending, nil
}
