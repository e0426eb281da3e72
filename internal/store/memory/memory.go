// Package memory is a process-local TaskStore.
package memory

import (
	"context"
	"sync"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
)

// Store keeps clones of saved tasks in a map.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*models.ResearchTask
}

var _ store.TaskStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]*models.ResearchTask)}
}

func (s *Store) Save(ctx context.Context, task *models.ResearchTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks[task.ID] = task.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.ResearchTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*models.ResearchTask, error) {
	s.mu.RLock()
	out := make([]*models.ResearchTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	store.SortNewestFirst(out)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) Close() error { return nil }
