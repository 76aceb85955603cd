package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tessera-trading/advisor/internal/domain"
)

// TaskStore implements domain.TaskStore on JSON files. Both the human
// and the agents create tasks by writing files here.
type TaskStore struct {
	dir string
}

// NewTaskStore creates a store rooted at the given directory.
func NewTaskStore(dir string) *TaskStore {
	return &TaskStore{dir: dir}
}

var _ domain.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the task, replacing any previous version.
func (s *TaskStore) Put(_ context.Context, task domain.Task) error {
	if task.ID == "" {
		return fmt.Errorf("fsstore: %w: task id required", domain.ErrValidation)
	}
	return writeJSON(s.path(task.ID), task)
}

// Get returns one task or domain.ErrNotFound.
func (s *TaskStore) Get(_ context.Context, id string) (domain.Task, error) {
	task, ok, err := readJSON[domain.Task](s.path(id))
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("fsstore: task %s: %w", id, domain.ErrNotFound)
	}
	return task, nil
}

// List returns every task definition.
func (s *TaskStore) List(_ context.Context) ([]domain.Task, error) {
	return listJSON[domain.Task](s.dir)
}

// Delete removes a task. Deleting a missing task returns
// domain.ErrNotFound.
func (s *TaskStore) Delete(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return fmt.Errorf("fsstore: task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("fsstore: delete task %s: %w", id, err)
	}
	return nil
}
