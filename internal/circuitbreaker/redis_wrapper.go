package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps the subset of Redis commands the task store needs with a
// circuit breaker. redis.Nil is a normal miss and never trips the breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, service string, settings Settings, logger *zap.Logger) *RedisWrapper {
	config := settings.ToConfig()
	config.IsFailure = func(err error) bool {
		return defaultIsFailure(err) && !errors.Is(err, redis.Nil)
	}
	cb := NewCircuitBreaker("redis", config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{client: client, cb: cb, service: service}
}

// run executes a command through the breaker. A call the breaker rejects
// never reaches Redis; the rejection is reported on an empty command.
func run[C redis.Cmder](rw *RedisWrapper, ctx context.Context, exec func() C, empty func() C) C {
	var result C
	ran := false
	err := rw.cb.Execute(ctx, func() error {
		ran = true
		result = exec()
		return result.Err()
	})
	success := err == nil || errors.Is(err, redis.Nil)
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), success)

	if !ran {
		result = empty()
		result.SetErr(err)
	}
	return result
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return run(rw, ctx,
		func() *redis.StatusCmd { return rw.client.Ping(ctx) },
		func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) },
	)
}

// Get wraps Redis Get with circuit breaker
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return run(rw, ctx,
		func() *redis.StringCmd { return rw.client.Get(ctx, key) },
		func() *redis.StringCmd { return redis.NewStringCmd(ctx) },
	)
}

// TxPipelined runs the commands queued by fn inside MULTI/EXEC as a single
// breaker call. Either every queued command is applied or none is.
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := rw.cb.Execute(ctx, func() error {
		var err error
		cmds, err = rw.client.TxPipelined(ctx, fn)
		return err
	})
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), err == nil || errors.Is(err, redis.Nil))
	return cmds, err
}

// ZRevRange wraps Redis ZRevRange with circuit breaker
func (rw *RedisWrapper) ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return run(rw, ctx,
		func() *redis.StringSliceCmd { return rw.client.ZRevRange(ctx, key, start, stop) },
		func() *redis.StringSliceCmd { return redis.NewStringSliceCmd(ctx) },
	)
}

// MGet wraps Redis MGet with circuit breaker
func (rw *RedisWrapper) MGet(ctx context.Context, keys ...string) *redis.SliceCmd {
	return run(rw, ctx,
		func() *redis.SliceCmd { return rw.client.MGet(ctx, keys...) },
		func() *redis.SliceCmd { return redis.NewSliceCmd(ctx) },
	)
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen reports whether calls are currently rejected
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
