// Package agents wraps the completion client with the role prompts of the
// research pipeline and prices every call.
package agents

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/llm"
	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/pricing"
	"github.com/dumplingcafe/research/internal/tracing"
)

// Result is the output of one agent call.
type Result struct {
	Content string
	Cost    float64
	Usage   *models.TokenUsage
	Model   string
}

// Critique is a critic call together with its parsed review.
type Critique struct {
	Result
	Review Parsed[Review]
}

// Options tunes the runner. Zero values take defaults.
type Options struct {
	Subtopics       int
	PassingScore    int
	WriterMaxTokens int
}

func (o Options) withDefaults() Options {
	if o.Subtopics <= 0 {
		o.Subtopics = len(DefaultSubtopics)
	}
	if o.PassingScore <= 0 {
		o.PassingScore = DefaultPassingScore
	}
	if o.WriterMaxTokens <= 0 {
		o.WriterMaxTokens = RoleWriter.MaxTokens()
	}
	return o
}

// Runner invokes the pipeline agents. It holds no per-task state and is safe
// for concurrent use.
type Runner struct {
	completer llm.Completer
	prices    *pricing.Table
	logger    *zap.Logger
	opts      Options
}

// NewRunner builds a runner. A nil price table uses the built-in prices.
func NewRunner(completer llm.Completer, prices *pricing.Table, logger *zap.Logger, opts Options) *Runner {
	if prices == nil {
		prices = pricing.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{completer: completer, prices: prices, logger: logger, opts: opts.withDefaults()}
}

// Plan asks the planner for the report sections. The raw answer is returned;
// use ParseSubtopics to read it.
func (r *Runner) Plan(ctx context.Context, query, model string) (*Result, error) {
	return r.call(ctx, RolePlanner, model, plannerPrompt(r.opts.Subtopics), plannerUserPrompt(query), 0)
}

// Research collects findings on one subtopic, optionally with live web search.
func (r *Runner) Research(ctx context.Context, subtopic, model string, useWebSearch bool) (*Result, error) {
	if useWebSearch {
		model = models.WithWebSearch(model)
	}
	return r.call(ctx, RoleResearcher, model, researcherSystemPrompt, researcherUserPrompt(subtopic), 0)
}

// Write drafts a section from research notes. Non-empty feedback asks for a
// revision of a rejected draft.
func (r *Runner) Write(ctx context.Context, section, notes, model, feedback string) (*Result, error) {
	return r.call(ctx, RoleWriter, model, writerSystemPrompt, writerUserPrompt(section, notes, feedback), r.opts.WriterMaxTokens)
}

// Critique reviews a draft. Unreadable reviews pass; see ParseCritique.
func (r *Runner) Critique(ctx context.Context, draft, model string) (*Critique, error) {
	res, err := r.call(ctx, RoleCritic, model, criticPrompt(r.opts.PassingScore), criticUserPrompt(draft), 0)
	if err != nil {
		return nil, err
	}
	review := ParseCritique(res.Content, r.opts.PassingScore)
	if review.Fallback {
		r.logger.Warn("Critic output incomplete, using defaults",
			zap.String("model", model),
			zap.String("reason", review.Reason),
		)
	}
	return &Critique{Result: *res, Review: review}, nil
}

// QuickResearch answers a query in one web-search-augmented call.
func (r *Runner) QuickResearch(ctx context.Context, query, model string) (*Result, error) {
	return r.call(ctx, RoleQuick, models.WithWebSearch(model), quickSystemPrompt, quickUserPrompt(query), 0)
}

func (r *Runner) call(ctx context.Context, role Role, model, system, user string, maxTokens int) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "agent."+string(role),
		attribute.String("agent.role", string(role)),
		attribute.String("llm.model", model),
	)
	defer func() { tracing.EndWithError(span, err) }()

	start := time.Now()
	resp, err := r.completer.Complete(ctx, llm.Request{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: llm.Temperature(role.Temperature()),
		MaxTokens:   maxTokens,
	})
	elapsed := time.Since(start)

	provider := models.DetectProvider(model)
	pmetrics.AgentCallDuration.WithLabelValues(string(role)).Observe(float64(elapsed.Milliseconds()))
	if err != nil {
		pmetrics.AgentCalls.WithLabelValues(string(role), provider, string(llm.KindOf(err))).Inc()
		r.logger.Error("Agent call failed",
			zap.String("role", string(role)),
			zap.String("model", model),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	pmetrics.AgentCalls.WithLabelValues(string(role), provider, "ok").Inc()

	res = &Result{
		Content: resp.Content,
		Cost:    r.prices.Cost(model, resp.Usage),
		Usage:   resp.Usage,
		Model:   model,
	}
	if resp.Usage != nil {
		pmetrics.AgentTokens.WithLabelValues(string(role), "prompt").Add(float64(max(resp.Usage.PromptTokens, 0)))
		pmetrics.AgentTokens.WithLabelValues(string(role), "completion").Add(float64(max(resp.Usage.CompletionTokens, 0)))
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	span.SetAttributes(attribute.Float64("llm.cost_usd", res.Cost))

	r.logger.Debug("Agent call completed",
		zap.String("role", string(role)),
		zap.String("model", model),
		zap.Duration("latency", elapsed),
		zap.Float64("cost_usd", res.Cost),
	)
	return res, nil
}
