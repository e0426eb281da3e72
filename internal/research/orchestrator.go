// Package research runs research tasks: a single web-search call in quick
// mode, or planner, researcher, writer and optional critic agents in deep
// mode. Every step is checkpointed through the Tracker.
package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/llm"
	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/textutil"
	"github.com/dumplingcafe/research/internal/tracing"
)

// Validation errors returned by StartResearch.
var (
	ErrInvalidQuery = errors.New("research query must not be empty")
	ErrInvalidMode  = errors.New("unknown research mode")
	ErrMissingModel = errors.New("no model configured for role")
)

// Agents is the set of agent calls the pipeline drives. *agents.Runner
// implements it.
type Agents interface {
	Plan(ctx context.Context, query, model string) (*agents.Result, error)
	Research(ctx context.Context, subtopic, model string, useWebSearch bool) (*agents.Result, error)
	Write(ctx context.Context, section, notes, model, feedback string) (*agents.Result, error)
	Critique(ctx context.Context, draft, model string) (*agents.Critique, error)
	QuickResearch(ctx context.Context, query, model string) (*agents.Result, error)
}

var _ Agents = (*agents.Runner)(nil)

// Config holds pipeline policy.
type Config struct {
	// CriticEnabled is the default for requests that do not choose.
	CriticEnabled  bool                  `mapstructure:"critic_enabled"`
	SubtopicPolicy agents.SubtopicPolicy `mapstructure:"subtopic_policy"`
	Subtopics      int                   `mapstructure:"subtopics"`
}

// DefaultConfig enables the critic and truncates plans to three sections.
func DefaultConfig() Config {
	return Config{CriticEnabled: true, SubtopicPolicy: agents.SubtopicTruncate, Subtopics: 3}
}

// Request starts one research task.
type Request struct {
	Query         string
	Mode          models.Mode
	Models        models.ResearchModels
	CriticEnabled *bool
}

// Orchestrator owns the lifecycle of research tasks.
type Orchestrator struct {
	agents  Agents
	tracker *Tracker
	config  Config
	logger  *zap.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(a Agents, tracker *Tracker, config Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Subtopics <= 0 {
		config.Subtopics = 3
	}
	if config.SubtopicPolicy == "" {
		config.SubtopicPolicy = agents.SubtopicTruncate
	}
	return &Orchestrator{
		agents:  a,
		tracker: tracker,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// StartResearch validates the request, persists a new task and starts its
// pipeline in the background. The pipeline is detached from ctx
// cancellation; it always runs to completed or failed.
func (o *Orchestrator) StartResearch(ctx context.Context, req Request) (string, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", ErrInvalidQuery
	}
	if !req.Mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	critic := o.config.CriticEnabled
	if req.CriticEnabled != nil {
		critic = *req.CriticEnabled
	}
	if err := validateModels(req.Mode, req.Models, critic); err != nil {
		return "", err
	}

	now := o.now().UnixMilli()
	task := &models.ResearchTask{
		ID:            uuid.NewString(),
		Query:         query,
		Mode:          req.Mode,
		Models:        req.Models,
		CriticEnabled: critic && req.Mode == models.ModeDeep,
		Status:        models.StatusPending,
		Results:       []string{},
		Logs:          []models.LogEntry{},
		Timestamp:     now,
		UpdatedAt:     now,
	}
	if err := task.Transition(models.StatusResearching); err != nil {
		return "", err
	}
	task.AddLog(models.AgentSystem, "Research task initialized.", now)

	if err := o.tracker.Register(ctx, task); err != nil {
		return "", fmt.Errorf("persist research task: %w", err)
	}

	pmetrics.TasksStarted.WithLabelValues(string(task.Mode)).Inc()
	pmetrics.TasksInFlight.Inc()
	o.logger.Info("Research task started",
		zap.String("task_id", task.ID),
		zap.String("mode", string(task.Mode)),
		zap.Bool("critic_enabled", task.CriticEnabled),
	)

	p := &pipeline{
		o:      o,
		ctx:    context.WithoutCancel(ctx),
		id:     task.ID,
		query:  task.Query,
		mode:   task.Mode,
		models: task.Models,
		critic: task.CriticEnabled,
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		p.run()
	}()
	return task.ID, nil
}

func validateModels(mode models.Mode, m models.ResearchModels, critic bool) error {
	required := map[string]string{"researcher": m.Researcher}
	if mode == models.ModeDeep {
		required["planner"] = m.Planner
		required["writer"] = m.Writer
		if critic {
			required["critic"] = m.Critic
		}
	}
	for _, role := range []string{"planner", "researcher", "writer", "critic"} {
		if v, ok := required[role]; ok && strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", ErrMissingModel, role)
		}
	}
	return nil
}

// Wait blocks until every started pipeline has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Task returns a snapshot of one task.
func (o *Orchestrator) Task(ctx context.Context, id string) (*models.ResearchTask, error) {
	return o.tracker.Get(ctx, id)
}

// Tasks returns every known task, newest first.
func (o *Orchestrator) Tasks() []*models.ResearchTask {
	return o.tracker.List()
}

// DeleteTask removes a task. A pipeline still running for it continues but
// no longer writes anywhere.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) error {
	if err := o.tracker.Delete(ctx, id); err != nil {
		return err
	}
	o.logger.Info("Research task deleted", zap.String("task_id", id))
	return nil
}

// pipeline is the state of one running task. cost is the running sum of
// every agent call, in call order.
type pipeline struct {
	o      *Orchestrator
	ctx    context.Context
	id     string
	query  string
	mode   models.Mode
	models models.ResearchModels
	critic bool
	cost   float64
}

func (p *pipeline) run() {
	start := time.Now()
	ctx, span := tracing.StartSpan(p.ctx, "research.pipeline",
		attribute.String("research.task_id", p.id),
		attribute.String("research.mode", string(p.mode)),
	)
	p.ctx = ctx

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
			p.o.logger.Error("Research pipeline panicked", zap.String("task_id", p.id), zap.Any("panic", r))
		}
		status := models.StatusCompleted
		if err != nil {
			status = models.StatusFailed
			p.fail(err)
		}
		tracing.EndWithError(span, err)

		pmetrics.TasksInFlight.Dec()
		pmetrics.TasksFinished.WithLabelValues(string(p.mode), string(status)).Inc()
		pmetrics.TaskDuration.WithLabelValues(string(p.mode)).Observe(time.Since(start).Seconds())
		pmetrics.TaskCostUSD.WithLabelValues(string(p.mode)).Observe(p.cost)
		p.o.logger.Info("Research task finished",
			zap.String("task_id", p.id),
			zap.String("status", string(status)),
			zap.Float64("total_cost", p.cost),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	if p.mode == models.ModeQuick {
		err = p.runQuick()
	} else {
		err = p.runDeep()
	}
}

func (p *pipeline) update(fn func(t *models.ResearchTask)) {
	p.o.tracker.Update(p.ctx, p.id, fn)
}

func (p *pipeline) ts() int64 {
	return p.o.now().UnixMilli()
}

// log appends a log entry and raises progress in one checkpoint. A negative
// progress leaves it unchanged.
func (p *pipeline) log(agent, message string, progress int) {
	ts := p.ts()
	p.update(func(t *models.ResearchTask) {
		t.AddLog(agent, message, ts)
		if progress >= 0 {
			t.AdvanceProgress(progress)
		}
	})
}

// charge adds an agent call's cost to the running total and checkpoints it
// with a log entry.
func (p *pipeline) charge(cost float64, agent, message string, progress int) {
	p.cost += cost
	total := p.cost
	ts := p.ts()
	p.update(func(t *models.ResearchTask) {
		t.TotalCost = total
		t.AddLog(agent, message, ts)
		if progress >= 0 {
			t.AdvanceProgress(progress)
		}
	})
}

// complete finishes the task. Non-nil results replace the task's results.
func (p *pipeline) complete(results []string, message string) {
	total := p.cost
	ts := p.ts()
	p.update(func(t *models.ResearchTask) {
		if results != nil {
			t.Results = append(t.Results[:0:0], results...)
		}
		t.TotalCost = total
		if err := t.Transition(models.StatusCompleted); err != nil {
			p.o.logger.Error("Cannot complete task", zap.String("task_id", p.id), zap.Error(err))
			return
		}
		t.AdvanceProgress(100)
		t.AddLog(models.AgentSystem, message, ts)
	})
}

func (p *pipeline) fail(err error) {
	p.o.logger.Error("Research task failed",
		zap.String("task_id", p.id),
		zap.String("kind", string(llm.KindOf(err))),
		zap.Error(err),
	)
	total := p.cost
	ts := p.ts()
	p.update(func(t *models.ResearchTask) {
		t.AddLog(models.AgentSystem, "Error: "+err.Error(), ts)
		t.TotalCost = total
		if terr := t.Transition(models.StatusFailed); terr != nil {
			p.o.logger.Error("Cannot fail task", zap.String("task_id", p.id), zap.Error(terr))
		}
	})
}

func (p *pipeline) runQuick() error {
	short := models.ShortName(p.models.Researcher)
	p.log(models.AgentResearcher, fmt.Sprintf("Quick research using %s...", short), 30)

	res, err := p.o.agents.QuickResearch(p.ctx, p.query, p.models.Researcher)
	if err != nil {
		return err
	}
	p.charge(res.Cost, models.AgentResearcher, "Research complete.", 90)

	p.complete([]string{res.Content}, "Quick research completed successfully.")
	return nil
}

func (p *pipeline) runDeep() error {
	p.log(models.AgentPlanner, fmt.Sprintf("Planning with %s...", models.ShortName(p.models.Planner)), 5)

	plan, err := p.o.agents.Plan(p.ctx, p.query, p.models.Planner)
	if err != nil {
		return err
	}
	parsed := agents.ParseSubtopics(plan.Content, p.o.config.Subtopics, p.o.config.SubtopicPolicy)
	if parsed.Fallback {
		p.o.logger.Warn("Planner output unusable, using default sections",
			zap.String("task_id", p.id),
			zap.String("reason", parsed.Reason),
		)
		p.charge(plan.Cost, models.AgentPlanner, "Using default structure.", 15)
		p.log(models.AgentPlanner, "Sections: "+strings.Join(parsed.Value, ", "), 20)
	} else {
		p.charge(plan.Cost, models.AgentPlanner, "Sections: "+strings.Join(parsed.Value, ", "), 20)
	}

	subtopics := parsed.Value
	for i, subtopic := range subtopics {
		b := sectionBand(i, len(subtopics))
		section, err := p.runSection(subtopic, b)
		if err != nil {
			return err
		}
		p.appendResult(section, b.hi)
	}

	p.complete(nil, "Deep research completed successfully.")
	return nil
}

// band is the progress range owned by one section.
type band struct{ lo, hi int }

func sectionBand(i, n int) band {
	lo := 20 + (i*70+n/2)/n
	hi := 20 + ((i+1)*70+n/2)/n
	return band{lo: lo, hi: hi}
}

// at returns the progress value at fraction f of the band.
func (b band) at(f float64) int {
	return b.lo + int(f*float64(b.hi-b.lo)+0.5)
}

func (p *pipeline) appendResult(section string, progress int) {
	total := p.cost
	ts := p.ts()
	p.update(func(t *models.ResearchTask) {
		t.Results = append(t.Results, section)
		t.TotalCost = total
		t.AddLog(models.AgentWriter, "Section complete.", ts)
		t.AdvanceProgress(progress)
	})
}

// runSection researches and writes one section, with a single critic-driven
// revision when the critic is enabled. At most four agent calls.
func (p *pipeline) runSection(subtopic string, b band) (string, error) {
	p.log(models.AgentResearcher, fmt.Sprintf("Researching: %q...", subtopic), b.lo)
	notes, err := p.o.agents.Research(p.ctx, subtopic, p.models.Researcher, true)
	if err != nil {
		return "", err
	}
	p.charge(notes.Cost, models.AgentResearcher, fmt.Sprintf("Found data for %s.", subtopic), b.at(0.35))

	p.log(models.AgentWriter, fmt.Sprintf("Writing: %q...", subtopic), -1)
	draft, err := p.o.agents.Write(p.ctx, subtopic, notes.Content, p.models.Writer, "")
	if err != nil {
		return "", err
	}
	if !p.critic {
		// charged with the appended section
		p.cost += draft.Cost
		return draft.Content, nil
	}
	p.charge(draft.Cost, models.AgentWriter, "Draft ready for review.", b.at(0.6))

	p.log(models.AgentCritic, fmt.Sprintf("Reviewing with %s...", models.ShortName(p.models.Critic)), -1)
	review, err := p.o.agents.Critique(p.ctx, draft.Content, p.models.Critic)
	if err != nil {
		return "", err
	}
	verdict := "PASSED"
	if !review.Review.Value.Passed {
		verdict = "FAILED"
	}
	msg := fmt.Sprintf("Score: %d/10, %s.", review.Review.Value.Score, verdict)
	if review.Review.Fallback {
		msg += " Review format incomplete, defaults applied."
	}
	p.charge(review.Cost, models.AgentCritic, msg, b.at(0.75))
	if review.Review.Value.Passed {
		return draft.Content, nil
	}

	p.log(models.AgentCritic, "Requesting revision: "+textutil.Shorten(review.Review.Value.Feedback, 200), -1)
	revised, err := p.o.agents.Write(p.ctx, subtopic, notes.Content, p.models.Writer, review.Review.Value.Feedback)
	if err != nil {
		return "", err
	}
	p.charge(revised.Cost, models.AgentWriter, "Revision complete.", b.at(0.9))
	return revised.Content, nil
}
