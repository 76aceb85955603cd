package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tessera-trading/advisor/internal/domain"
)

// MemoStore implements domain.MemoStore. Each memo is written twice:
// JSON for the system, rendered Markdown for the human.
type MemoStore struct {
	dir string
}

// NewMemoStore creates a store rooted at the given directory.
func NewMemoStore(dir string) *MemoStore {
	return &MemoStore{dir: dir}
}

var _ domain.MemoStore = (*MemoStore)(nil)

// Put writes the memo's JSON record and Markdown rendering.
func (s *MemoStore) Put(_ context.Context, memo domain.Memo) error {
	if memo.ID == "" {
		return fmt.Errorf("fsstore: %w: memo id required", domain.ErrValidation)
	}
	if err := writeJSON(filepath.Join(s.dir, memo.ID+".json"), memo); err != nil {
		return err
	}
	mdPath := filepath.Join(s.dir, memo.ID+".md")
	if err := os.WriteFile(mdPath, []byte(memo.Markdown()), 0o644); err != nil {
		return fmt.Errorf("fsstore: write %s: %w", mdPath, err)
	}
	return nil
}

// Get returns one memo or domain.ErrNotFound.
func (s *MemoStore) Get(_ context.Context, id string) (domain.Memo, error) {
	memo, ok, err := readJSON[domain.Memo](filepath.Join(s.dir, id+".json"))
	if err != nil {
		return domain.Memo{}, err
	}
	if !ok {
		return domain.Memo{}, fmt.Errorf("fsstore: memo %s: %w", id, domain.ErrNotFound)
	}
	return memo, nil
}
