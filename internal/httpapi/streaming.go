package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/streaming"
)

// subscription is an open event stream for one task: the replayed backlog
// followed by live events.
type subscription struct {
	taskID  string
	ch      chan streaming.Event
	backlog []streaming.Event
	filter  map[string]struct{}
	// final is sent when the task already finished and its terminal event
	// is no longer retained, e.g. after a restart.
	final *streaming.Event
}

func (s *subscription) wants(evt streaming.Event) bool {
	if len(s.filter) == 0 || evt.Terminal() {
		return true
	}
	_, ok := s.filter[evt.Type]
	return ok
}

// openSubscription validates the request and subscribes. It writes the
// error response itself and returns nil on failure.
func (h *Handler) openSubscription(w http.ResponseWriter, r *http.Request) *subscription {
	q := r.URL.Query()
	taskID := q.Get("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task_id required")
		return nil
	}
	task, err := h.orch.Task(r.Context(), taskID)
	if errors.Is(err, research.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "research task not found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load research task")
		return nil
	}

	filter := map[string]struct{}{}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[t] = struct{}{}
			}
		}
	}

	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if v := q.Get("last_event_id"); v != "" && lastID == 0 {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastID = n
		}
	}

	ch, backlog := h.events.SubscribeSince(taskID, lastID, h.opts.SubscriberBuffer)
	sub := &subscription{taskID: taskID, ch: ch, backlog: backlog, filter: filter}
	if task.Status.Terminal() && !hasTerminal(backlog) {
		sub.final = &streaming.Event{
			TaskID:    task.ID,
			Type:      streaming.EventDone,
			Status:    task.Status,
			Progress:  task.Progress,
			TotalCost: task.TotalCost,
			Results:   len(task.Results),
			Timestamp: task.UpdatedAt,
		}
	}
	return sub
}

func hasTerminal(events []streaming.Event) bool {
	for _, e := range events {
		if e.Terminal() {
			return true
		}
	}
	return false
}

// pump delivers backlog then live events to send until a terminal event,
// the client leaving or a send error.
func (h *Handler) pump(ctx context.Context, sub *subscription, send func(streaming.Event) error, heartbeat func() error) {
	for _, evt := range sub.backlog {
		if !sub.wants(evt) {
			continue
		}
		if err := send(evt); err != nil || evt.Terminal() {
			return
		}
	}
	if sub.final != nil {
		_ = send(*sub.final)
		return
	}

	hb := time.NewTicker(h.opts.Heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.ch:
			if !ok {
				return
			}
			if !sub.wants(evt) {
				continue
			}
			if err := send(evt); err != nil || evt.Terminal() {
				return
			}
		case <-hb.C:
			if err := heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleSSE streams events for a research task via Server-Sent Events.
// GET /stream/sse?task_id=<id>[&types=log,done][&last_event_id=<seq>]
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sub := h.openSubscription(w, r)
	if sub == nil {
		return
	}
	defer h.events.Unsubscribe(sub.taskID, sub.ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected to research task %s\n\n", sub.taskID)
	flusher.Flush()

	send := func(evt streaming.Event) error {
		if evt.Seq > 0 {
			fmt.Fprintf(w, "id: %d\n", evt.Seq)
		}
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", evt.Marshal()); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	heartbeat := func() error {
		// keeps proxies from closing idle streams
		if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	h.pump(r.Context(), sub, send, heartbeat)
	h.logger.Debug("SSE stream closed", zap.String("task_id", sub.taskID))
}
