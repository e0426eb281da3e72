// Package llmtest provides a scripted Completer for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/dumplingcafe/research/internal/llm"
	"github.com/dumplingcafe/research/internal/models"
)

// Handler produces the reply for the n-th call (0-based) of the fake.
type Handler func(req llm.Request, n int) (*llm.Response, error)

// Fake records every request and answers through its Handler.
type Fake struct {
	mu      sync.Mutex
	calls   []llm.Request
	handler Handler
}

// New returns a fake answering with h.
func New(h Handler) *Fake {
	return &Fake{handler: h}
}

// Complete implements llm.Completer.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handler(req, n)
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// CallsFor returns the recorded requests sent to model.
func (f *Fake) CallsFor(model string) []llm.Request {
	var out []llm.Request
	for _, c := range f.Calls() {
		if c.Model == model {
			out = append(out, c)
		}
	}
	return out
}

// Usage builds a usage record.
func Usage(prompt, completion int) *models.TokenUsage {
	return &models.TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Reply is one scripted answer.
type Reply struct {
	Content string
	Usage   *models.TokenUsage
	Err     error
}

func (r Reply) response(model string) (*llm.Response, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Content: r.Content, Model: model, Usage: r.Usage}, nil
}

// Sequence answers calls in order; calls past the end repeat the last reply.
func Sequence(replies ...Reply) Handler {
	return func(req llm.Request, n int) (*llm.Response, error) {
		if len(replies) == 0 {
			return &llm.Response{Model: req.Model}, nil
		}
		if n >= len(replies) {
			n = len(replies) - 1
		}
		return replies[n].response(req.Model)
	}
}

// ByModel routes calls by model id. Each model keeps its own cursor over its
// replies; the last reply repeats.
func ByModel(routes map[string][]Reply) Handler {
	var mu sync.Mutex
	cursor := make(map[string]int)
	return func(req llm.Request, _ int) (*llm.Response, error) {
		mu.Lock()
		replies := routes[req.Model]
		i := cursor[req.Model]
		cursor[req.Model]++
		mu.Unlock()

		if len(replies) == 0 {
			return nil, &llm.Error{Kind: llm.KindBadRequest, Status: 400, Message: "no scripted reply for " + req.Model}
		}
		if i >= len(replies) {
			i = len(replies) - 1
		}
		return replies[i].response(req.Model)
	}
}
