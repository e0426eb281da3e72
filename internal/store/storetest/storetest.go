// Package storetest holds behaviour tests shared by every TaskStore.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
)

// Task builds a task created at ts.
func Task(id string, ts int64) *models.ResearchTask {
	return &models.ResearchTask{
		ID:        id,
		Query:     "query " + id,
		Mode:      models.ModeDeep,
		Status:    models.StatusResearching,
		Models:    models.ResearchModels{Planner: "p", Researcher: "r", Writer: "w", Critic: "c"},
		Results:   []string{},
		Logs:      []models.LogEntry{{Agent: models.AgentSystem, Message: "Research task initialized.", Timestamp: ts}},
		Timestamp: ts,
		UpdatedAt: ts,
	}
}

// Run exercises the TaskStore contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.TaskStore) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		s := newStore(t)
		task := Task("a", 1000)
		task.Results = []string{"## Overview"}
		task.TotalCost = 0.000052
		require.NoError(t, s.Save(ctx, task))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, task, got)
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		task := Task("a", 1000)
		require.NoError(t, s.Save(ctx, task))
		task.Status = models.StatusCompleted
		task.Progress = 100
		require.NoError(t, s.Save(ctx, task))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("saved snapshot is detached", func(t *testing.T) {
		s := newStore(t)
		task := Task("a", 1000)
		require.NoError(t, s.Save(ctx, task))
		task.Logs = append(task.Logs, models.LogEntry{Agent: "x", Message: "later"})

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, got.Logs, 1)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Task("old", 1000)))
		require.NoError(t, s.Save(ctx, Task("new", 3000)))
		require.NoError(t, s.Save(ctx, Task("mid", 2000)))

		all, err := s.List(ctx)
		require.NoError(t, err)
		ids := make([]string, len(all))
		for i, task := range all {
			ids[i] = task.ID
		}
		assert.Equal(t, []string{"new", "mid", "old"}, ids)
	})

	t.Run("list empty", func(t *testing.T) {
		s := newStore(t)
		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Task("a", 1000)))
		require.NoError(t, s.Delete(ctx, "a"))

		_, err := s.Get(ctx, "a")
		assert.True(t, errors.Is(err, store.ErrNotFound))
		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.True(t, errors.Is(s.Delete(ctx, "a"), store.ErrNotFound))
	})

	t.Run("save after delete recreates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, Task("a", 1000)))
		require.NoError(t, s.Delete(ctx, "a"))
		require.NoError(t, s.Save(ctx, Task("a", 1000)))
		_, err := s.Get(ctx, "a")
		assert.NoError(t, err)
	})
}
