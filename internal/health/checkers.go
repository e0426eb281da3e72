package health

import (
	"context"
	"time"
)

// Pinger is implemented by the task stores that have a remote backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// breakerReporter is implemented by stores guarded by a circuit breaker.
type breakerReporter interface {
	IsCircuitBreakerOpen() bool
}

// StoreChecker checks task store connectivity
type StoreChecker struct {
	name    string
	store   Pinger
	timeout time.Duration
	// latency above which the store is reported degraded
	slow time.Duration
}

// NewStoreChecker creates a critical checker for the task store.
func NewStoreChecker(name string, store Pinger) *StoreChecker {
	return &StoreChecker{name: name, store: store, timeout: 5 * time.Second, slow: 100 * time.Millisecond}
}

func (s *StoreChecker) Name() string           { return s.name }
func (s *StoreChecker) IsCritical() bool       { return true }
func (s *StoreChecker) Timeout() time.Duration { return s.timeout }

func (s *StoreChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{}

	if b, ok := s.store.(breakerReporter); ok && b.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Task store circuit breaker is open"
		return result
	}

	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start)
	result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}

	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Task store ping failed"
	case latency > s.slow:
		result.Status = StatusDegraded
		result.Message = "Task store responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Task store healthy"
	}
	return result
}

// CredentialChecker reports degraded when the completion API key is not
// configured. Tasks still start but fail on their first model call.
type CredentialChecker struct {
	hasKey func() bool
}

// NewCredentialChecker creates a non-critical credential checker.
func NewCredentialChecker(hasKey func() bool) *CredentialChecker {
	return &CredentialChecker{hasKey: hasKey}
}

func (c *CredentialChecker) Name() string           { return "openrouter" }
func (c *CredentialChecker) IsCritical() bool       { return false }
func (c *CredentialChecker) Timeout() time.Duration { return time.Second }

func (c *CredentialChecker) Check(context.Context) CheckResult {
	if c.hasKey() {
		return CheckResult{Status: StatusHealthy, Message: "API key configured"}
	}
	return CheckResult{Status: StatusDegraded, Message: "API key not configured"}
}
