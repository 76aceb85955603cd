package fsstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MemoryStore implements domain.MemoryStore on JSON files.
type MemoryStore struct {
	dir string
}

// NewMemoryStore creates a store rooted at the given directory.
func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{dir: dir}
}

var _ domain.MemoryStore = (*MemoryStore)(nil)

func (s *MemoryStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the memory, replacing any previous version.
func (s *MemoryStore) Put(_ context.Context, mem domain.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("fsstore: %w: memory id required", domain.ErrValidation)
	}
	return writeJSON(s.path(mem.ID), mem)
}

// Get returns one memory or domain.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Memory, error) {
	mem, ok, err := readJSON[domain.Memory](s.path(id))
	if err != nil {
		return domain.Memory{}, err
	}
	if !ok {
		return domain.Memory{}, fmt.Errorf("fsstore: memory %s: %w", id, domain.ErrNotFound)
	}
	return mem, nil
}

// List returns memories newest first, filtered by opts.
func (s *MemoryStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Memory, error) {
	memories, err := listJSON[domain.Memory](s.dir)
	if err != nil {
		return nil, err
	}

	filtered := memories[:0]
	for _, mem := range memories {
		if opts.Since != nil && mem.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && mem.CreatedAt.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, mem)
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
