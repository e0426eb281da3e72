// Package streaming fans research task events out to live subscribers and
// keeps a bounded per-task history for reconnecting clients.
package streaming

import (
	"encoding/json"
	"sync"

	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
)

// Event types
const (
	EventLog     = "log"     // a log entry was appended
	EventUpdate  = "update"  // progress, cost or results changed
	EventDone    = "done"    // the task reached a terminal status
	EventDeleted = "deleted" // the task was deleted; the stream ends
)

// Event is one observable change of a research task.
type Event struct {
	TaskID    string        `json:"task_id"`
	Type      string        `json:"type"`
	Agent     string        `json:"agent,omitempty"`
	Message   string        `json:"message,omitempty"`
	Status    models.Status `json:"status"`
	Progress  int           `json:"progress"`
	TotalCost float64       `json:"total_cost"`
	Results   int           `json:"results"`
	Timestamp int64         `json:"timestamp"`
	Seq       uint64        `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or websocket frames.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Terminal reports whether no further events follow for the task.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventDeleted
}

// DefaultCapacity is the per-task history size.
const DefaultCapacity = 256

// Manager provides in-memory pub/sub for task events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-task ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
}

// NewManager returns a manager keeping capacity events per task.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a task; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch, _ := m.SubscribeSince(taskID, 0, buffer)
	return ch
}

// SubscribeSince subscribes and returns the retained events with Seq > since
// in one step, so nothing published in between is missed or duplicated.
func (m *Manager) SubscribeSince(taskID string, since uint64, buffer int) (chan Event, []Event) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	pmetrics.StreamSubscribers.Inc()

	var replay []Event
	if rg := m.history[taskID]; rg != nil {
		replay = rg.since(since)
	}
	return ch, replay
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		pmetrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// Publish records the event and sends it to all subscribers of the task
// without blocking. Sequence numbers start at 1.
func (m *Manager) Publish(taskID string, evt Event) Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[taskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[taskID] = rg
	}
	rg.nextSeq++
	evt.TaskID = taskID
	evt.Seq = rg.nextSeq
	rg.push(evt)

	for ch := range m.subscribers[taskID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow; it can resync with ReplaySince
			pmetrics.StreamEventsDropped.Inc()
		}
	}
	return evt
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[taskID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget publishes a deleted event, closes every subscriber of the task and
// drops its history.
func (m *Manager) Forget(taskID string, ts int64) {
	m.Publish(taskID, Event{Type: EventDeleted, Timestamp: ts})

	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers[taskID] {
		close(ch)
		pmetrics.StreamSubscribers.Dec()
	}
	delete(m.subscribers, taskID)
	delete(m.history, taskID)
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
