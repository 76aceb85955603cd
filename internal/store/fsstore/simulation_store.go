package fsstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tessera-trading/advisor/internal/domain"
)

// SimulationStore implements domain.SimulationStore on JSON files.
type SimulationStore struct {
	dir string
}

// NewSimulationStore creates a store rooted at the given directory.
func NewSimulationStore(dir string) *SimulationStore {
	return &SimulationStore{dir: dir}
}

var _ domain.SimulationStore = (*SimulationStore)(nil)

func (s *SimulationStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the run record, replacing any previous version.
func (s *SimulationStore) Put(_ context.Context, run domain.SimulationRun) error {
	if run.ID == "" {
		return fmt.Errorf("fsstore: %w: simulation id required", domain.ErrValidation)
	}
	return writeJSON(s.path(run.ID), run)
}

// Get returns one run or domain.ErrNotFound.
func (s *SimulationStore) Get(_ context.Context, id string) (domain.SimulationRun, error) {
	run, ok, err := readJSON[domain.SimulationRun](s.path(id))
	if err != nil {
		return domain.SimulationRun{}, err
	}
	if !ok {
		return domain.SimulationRun{}, fmt.Errorf("fsstore: simulation %s: %w", id, domain.ErrNotFound)
	}
	return run, nil
}

// List returns runs newest first by start time.
func (s *SimulationStore) List(_ context.Context, opts domain.ListOpts) ([]domain.SimulationRun, error) {
	runs, err := listJSON[domain.SimulationRun](s.dir)
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		ti, tj := runs[i].StartedAt, runs[j].StartedAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		return ti.After(*tj)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}
