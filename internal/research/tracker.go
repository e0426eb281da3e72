package research

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
	"github.com/dumplingcafe/research/internal/streaming"
)

// ErrTaskNotFound is returned for ids that are neither tracked nor stored.
var ErrTaskNotFound = errors.New("research task not found")

// Tracker holds the live task list, checkpoints every mutation to the store
// and publishes the resulting events. It is the only writer of task records.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store  store.TaskStore
	events *streaming.Manager
	logger *zap.Logger
	now    func() time.Time
}

type entry struct {
	mu      sync.Mutex
	task    *models.ResearchTask
	deleted bool
}

// NewTracker builds a tracker. events may be nil.
func NewTracker(s store.TaskStore, events *streaming.Manager, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[string]*entry),
		store:   s,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// Load adds every stored task not already tracked. Tasks interrupted by a
// restart keep their last checkpointed state.
func (tr *Tracker) Load(ctx context.Context) (int, error) {
	tasks, err := tr.store.List(ctx)
	if err != nil {
		return 0, err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, t := range tasks {
		if _, ok := tr.entries[t.ID]; ok {
			continue
		}
		tr.entries[t.ID] = &entry{task: t}
		n++
	}
	return n, nil
}

// Register persists a new task and starts tracking it.
func (tr *Tracker) Register(ctx context.Context, task *models.ResearchTask) error {
	snapshot := task.Clone()
	if err := tr.store.Save(ctx, snapshot); err != nil {
		pmetrics.CheckpointWrites.WithLabelValues("error").Inc()
		return err
	}
	pmetrics.CheckpointWrites.WithLabelValues("ok").Inc()

	tr.mu.Lock()
	tr.entries[task.ID] = &entry{task: snapshot.Clone()}
	tr.mu.Unlock()

	tr.publish(&models.ResearchTask{ID: task.ID}, snapshot)
	return nil
}

// Update applies fn to the tracked task, stamps it and checkpoints it. It
// reports false without calling fn when the task was deleted or never
// tracked. Store failures are logged and counted; the in-memory task still
// advances.
func (tr *Tracker) Update(ctx context.Context, id string, fn func(t *models.ResearchTask)) bool {
	tr.mu.RLock()
	e := tr.entries[id]
	tr.mu.RUnlock()
	if e == nil {
		pmetrics.CheckpointWrites.WithLabelValues("skipped").Inc()
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		pmetrics.CheckpointWrites.WithLabelValues("skipped").Inc()
		return false
	}

	before := e.task.Clone()
	fn(e.task)
	e.task.UpdatedAt = tr.now().UnixMilli()
	snapshot := e.task.Clone()

	if err := tr.store.Save(ctx, snapshot); err != nil {
		pmetrics.CheckpointWrites.WithLabelValues("error").Inc()
		tr.logger.Warn("Checkpoint failed",
			zap.String("task_id", id),
			zap.Error(err),
		)
	} else {
		pmetrics.CheckpointWrites.WithLabelValues("ok").Inc()
	}

	tr.publish(before, snapshot)
	return true
}

// publish emits one log event per appended entry, then an update event if
// nothing was logged but state changed, then done on reaching a terminal status.
func (tr *Tracker) publish(before, after *models.ResearchTask) {
	if tr.events == nil {
		return
	}
	base := streaming.Event{
		Status:    after.Status,
		Progress:  after.Progress,
		TotalCost: after.TotalCost,
		Results:   len(after.Results),
		Timestamp: after.UpdatedAt,
	}

	logged := false
	for _, l := range after.Logs[min(len(before.Logs), len(after.Logs)):] {
		evt := base
		evt.Type = streaming.EventLog
		evt.Agent = l.Agent
		evt.Message = l.Message
		evt.Timestamp = l.Timestamp
		tr.events.Publish(after.ID, evt)
		logged = true
	}

	changed := before.Progress != after.Progress ||
		before.TotalCost != after.TotalCost ||
		len(before.Results) != len(after.Results) ||
		before.Status != after.Status
	if changed && !logged {
		evt := base
		evt.Type = streaming.EventUpdate
		tr.events.Publish(after.ID, evt)
	}

	if after.Status.Terminal() && !before.Status.Terminal() {
		evt := base
		evt.Type = streaming.EventDone
		tr.events.Publish(after.ID, evt)
	}
}

// Get returns a snapshot of the task, falling back to the store for tasks
// this process does not track.
func (tr *Tracker) Get(ctx context.Context, id string) (*models.ResearchTask, error) {
	tr.mu.RLock()
	e := tr.entries[id]
	tr.mu.RUnlock()
	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.task.Clone(), nil
	}

	t, err := tr.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// List returns snapshots of every tracked task, newest first.
func (tr *Tracker) List() []*models.ResearchTask {
	tr.mu.RLock()
	entries := make([]*entry, 0, len(tr.entries))
	for _, e := range tr.entries {
		entries = append(entries, e)
	}
	tr.mu.RUnlock()

	out := make([]*models.ResearchTask, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.task.Clone())
		e.mu.Unlock()
	}
	store.SortNewestFirst(out)
	return out
}

// Delete removes the task from the list and the store. A running pipeline
// keeps going; its later checkpoints become no-ops.
func (tr *Tracker) Delete(ctx context.Context, id string) error {
	tr.mu.Lock()
	e := tr.entries[id]
	delete(tr.entries, id)
	tr.mu.Unlock()

	if e != nil {
		// waits for an in-flight checkpoint so it cannot recreate the record
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
	}

	err := tr.store.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if e == nil {
			return ErrTaskNotFound
		}
		err = nil
	}
	if err != nil {
		return err
	}

	if tr.events != nil {
		tr.events.Forget(id, tr.now().UnixMilli())
	}
	return nil
}
