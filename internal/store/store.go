// Package store defines task persistence for the research orchestrator.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/dumplingcafe/research/internal/models"
)

// ErrNotFound is returned by Get and Delete for unknown ids.
var ErrNotFound = errors.New("task not found")

// TaskStore persists research tasks keyed by id. Save is last write wins.
// List returns tasks newest first.
type TaskStore interface {
	Save(ctx context.Context, task *models.ResearchTask) error
	Get(ctx context.Context, id string) (*models.ResearchTask, error)
	List(ctx context.Context) ([]*models.ResearchTask, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SortNewestFirst orders tasks by creation time, newest first, ties by id.
func SortNewestFirst(tasks []*models.ResearchTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Timestamp != tasks[j].Timestamp {
			return tasks[i].Timestamp > tasks[j].Timestamp
		}
		return tasks[i].ID < tasks[j].ID
	})
}
