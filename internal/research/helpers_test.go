package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
	"github.com/dumplingcafe/research/internal/store/memory"
	"github.com/dumplingcafe/research/internal/streaming"
)

// call records one agent invocation made by the pipeline.
type call struct {
	role      string
	model     string
	input     string
	feedback  string
	webSearch bool
	cost      float64
}

// scripted implements Agents with overridable per-role behaviour.
type scripted struct {
	mu    sync.Mutex
	calls []call

	plan     func(query string) (*agents.Result, error)
	research func(subtopic string, n int) (*agents.Result, error)
	write    func(section, feedback string) (*agents.Result, error)
	critique func(draft string, n int) (*agents.Critique, error)
	quick    func(query string) (*agents.Result, error)
}

func newScripted() *scripted {
	return &scripted{
		plan: func(string) (*agents.Result, error) {
			return &agents.Result{Content: `["A", "B", "C"]`, Cost: 0.01}, nil
		},
		research: func(subtopic string, _ int) (*agents.Result, error) {
			return &agents.Result{Content: "- notes on " + subtopic, Cost: 0.02}, nil
		},
		write: func(section, feedback string) (*agents.Result, error) {
			if feedback != "" {
				return &agents.Result{Content: "## " + section + " (revised)", Cost: 0.04}, nil
			}
			return &agents.Result{Content: "## " + section, Cost: 0.03}, nil
		},
		critique: func(string, int) (*agents.Critique, error) {
			return review(9, true, "solid", 0.005), nil
		},
		quick: func(query string) (*agents.Result, error) {
			return &agents.Result{Content: "summary of " + query, Cost: 0.001}, nil
		},
	}
}

func review(score int, passed bool, feedback string, cost float64) *agents.Critique {
	return &agents.Critique{
		Result: agents.Result{Content: fmt.Sprintf("SCORE: %d", score), Cost: cost},
		Review: agents.Ok(agents.Review{Score: score, Passed: passed, Feedback: feedback}, ""),
	}
}

func (s *scripted) record(c call) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, prev := range s.calls {
		if prev.role == c.role {
			n++
		}
	}
	s.calls = append(s.calls, c)
	return n + 1
}

func (s *scripted) setCost(cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[len(s.calls)-1].cost = cost
}

func (s *scripted) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func (s *scripted) count(role string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.role == role {
			n++
		}
	}
	return n
}

// billed sums the cost of every successful call in call order.
func (s *scripted) billed() float64 {
	total := 0.0
	for _, c := range s.Calls() {
		total += c.cost
	}
	return total
}

func finish[T interface{ *agents.Result | *agents.Critique }](s *scripted, res T, err error, cost func(T) float64) (T, error) {
	if err == nil {
		s.setCost(cost(res))
	}
	return res, err
}

func resultCost(r *agents.Result) float64     { return r.Cost }
func critiqueCost(c *agents.Critique) float64 { return c.Cost }

func (s *scripted) Plan(_ context.Context, query, model string) (*agents.Result, error) {
	s.record(call{role: "plan", model: model, input: query})
	res, err := s.plan(query)
	return finish(s, res, err, resultCost)
}

func (s *scripted) Research(_ context.Context, subtopic, model string, web bool) (*agents.Result, error) {
	n := s.record(call{role: "research", model: model, input: subtopic, webSearch: web})
	res, err := s.research(subtopic, n)
	return finish(s, res, err, resultCost)
}

func (s *scripted) Write(_ context.Context, section, notes, model, feedback string) (*agents.Result, error) {
	s.record(call{role: "write", model: model, input: section, feedback: feedback})
	res, err := s.write(section, feedback)
	return finish(s, res, err, resultCost)
}

func (s *scripted) Critique(_ context.Context, draft, model string) (*agents.Critique, error) {
	n := s.record(call{role: "critique", model: model, input: draft})
	res, err := s.critique(draft, n)
	return finish(s, res, err, critiqueCost)
}

func (s *scripted) QuickResearch(_ context.Context, query, model string) (*agents.Result, error) {
	s.record(call{role: "quick", model: model, input: query})
	res, err := s.quick(query)
	return finish(s, res, err, resultCost)
}

// recordingStore keeps every checkpoint written for later inspection.
type recordingStore struct {
	*memory.Store
	mu        sync.Mutex
	snapshots []*models.ResearchTask
	failSaves bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memory.New()}
}

var errStoreDown = errors.New("store unavailable")

func (r *recordingStore) Save(ctx context.Context, t *models.ResearchTask) error {
	r.mu.Lock()
	fail := r.failSaves
	if !fail {
		r.snapshots = append(r.snapshots, t.Clone())
	}
	r.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return r.Store.Save(ctx, t)
}

func (r *recordingStore) setFailing(v bool) {
	r.mu.Lock()
	r.failSaves = v
	r.mu.Unlock()
}

func (r *recordingStore) checkpoints(id string) []*models.ResearchTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ResearchTask
	for _, s := range r.snapshots {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

var _ store.TaskStore = (*recordingStore)(nil)

type fixture struct {
	orch   *Orchestrator
	store  *recordingStore
	events *streaming.Manager
	agents *scripted
}

func newFixture(t *testing.T, cfg Config) *fixture {
	st := newRecordingStore()
	events := streaming.NewManager(512)
	logger := zaptest.NewLogger(t)
	a := newScripted()
	return &fixture{
		orch:   NewOrchestrator(a, NewTracker(st, events, logger), cfg, logger),
		store:  st,
		events: events,
		agents: a,
	}
}

func fastPreset() models.ResearchModels {
	p, _ := models.DefaultCatalog().Preset("fast")
	return p.Models
}

func boolPtr(v bool) *bool { return &v }

func logsBy(task *models.ResearchTask, agent string) []string {
	var out []string
	for _, l := range task.Logs {
		if l.Agent == agent {
			out = append(out, l.Message)
		}
	}
	return out
}
