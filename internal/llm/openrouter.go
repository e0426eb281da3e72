package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dumplingcafe/research/internal/circuitbreaker"
	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/textutil"
	"github.com/dumplingcafe/research/internal/tracing"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const maxResponseBytes = 8 << 20

// OpenRouterConfig configures the OpenRouter chat completions client.
type OpenRouterConfig struct {
	BaseURL           string
	APIKey            string
	Referer           string
	Title             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           circuitbreaker.Settings
}

// OpenRouterClient implements Completer against OpenRouter's
// OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	cfg     OpenRouterConfig
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenRouterClient builds a client. httpClient may be nil.
func NewOpenRouterClient(cfg OpenRouterConfig, httpClient *http.Client, logger *zap.Logger) *OpenRouterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenRouterClient{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(httpClient, "openrouter", "completion", cfg.Breaker, logger),
		limiter: limiter,
		logger:  logger,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// Complete sends one chat completion request.
func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (resp *Response, err error) {
	defer func() {
		kind := "ok"
		if err != nil {
			kind = string(KindOf(err))
		}
		pmetrics.CompletionRequests.WithLabelValues(kind).Inc()
	}()

	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, &Error{Kind: KindUnauthenticated, Message: "OpenRouter API key is not configured"}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, endpoint)
	defer func() { tracing.EndWithError(span, err) }()

	payload, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, &Error{Kind: KindUnavailable, Message: "completion API temporarily disabled after repeated failures", Cause: err}
		}
		return nil, &Error{Kind: KindUnavailable, Message: err.Error(), Cause: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Status: httpResp.StatusCode, Message: "read response: " + err.Error(), Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Error{
			Kind:    kindForStatus(httpResp.StatusCode),
			Status:  httpResp.StatusCode,
			Message: errorMessage(body, httpResp.Status),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Status: httpResp.StatusCode, Message: "decode response: " + err.Error(), Cause: err}
	}
	if parsed.Error != nil {
		kind := KindUnknown
		var code int
		if json.Unmarshal(parsed.Error.Code, &code) == nil && code != 0 {
			kind = kindForStatus(code)
		}
		return nil, &Error{Kind: kind, Status: code, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindUnknown, Status: httpResp.StatusCode, Message: "completion response contained no choices"}
	}

	resp = &Response{Content: parsed.Choices[0].Message.Content, Model: parsed.Model}
	if parsed.Usage != nil {
		resp.Usage = &models.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}

	c.logger.Debug("Completion received",
		zap.String("model", req.Model),
		zap.String("id", parsed.ID),
		zap.Duration("latency", time.Since(start)),
		zap.Bool("usage_reported", resp.Usage != nil),
	)
	return resp, nil
}

// errorMessage extracts the provider's message from an error body.
func errorMessage(body []byte, fallback string) string {
	var wrapped struct {
		Error *apiError `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	if s := textutil.Shorten(string(body), 512); s != "" {
		return s
	}
	return fallback
}
