package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test-store", StoreSettings(), zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	_, err := wrapper.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "task:1", "payload", time.Minute)
		pipe.ZAdd(ctx, "tasks", redis.Z{Score: 2, Member: "b"}, redis.Z{Score: 1, Member: "a"})
		return nil
	})
	if err != nil {
		t.Errorf("TxPipelined write failed: %v", err)
	}

	getResult := wrapper.Get(ctx, "task:1")
	if getResult.Err() != nil {
		t.Errorf("Get failed: %v", getResult.Err())
	}
	if getResult.Val() != "payload" {
		t.Errorf("Expected 'payload', got '%s'", getResult.Val())
	}

	ids, err := wrapper.ZRevRange(ctx, "tasks", 0, -1).Result()
	if err != nil {
		t.Errorf("ZRevRange failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Errorf("Expected [b a], got %v", ids)
	}

	vals, err := wrapper.MGet(ctx, "task:1", "task:missing").Result()
	if err != nil {
		t.Errorf("MGet failed: %v", err)
	}
	if len(vals) != 2 || vals[0] != "payload" || vals[1] != nil {
		t.Errorf("Unexpected MGet result %v", vals)
	}

	var del *redis.IntCmd
	_, err = wrapper.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, "tasks", "a")
		del = pipe.Del(ctx, "task:1")
		return nil
	})
	if err != nil {
		t.Errorf("TxPipelined delete failed: %v", err)
	}
	if del.Val() != 1 {
		t.Errorf("Expected 1 deleted key, got %d", del.Val())
	}
	if s.Exists("task:1") {
		t.Error("Expected task:1 to be gone")
	}
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()

	settings := StoreSettings()
	settings.FailureThreshold = 3
	wrapper := NewRedisWrapper(client, "test-store-down", settings, zaptest.NewLogger(t))
	ctx := context.Background()

	s.Close()

	for i := 0; i < 3; i++ {
		if wrapper.Ping(ctx).Err() == nil {
			t.Error("Expected ping to fail against a stopped server")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Expected circuit breaker to be open after repeated failures")
	}

	result := wrapper.Get(ctx, "any:key")
	if !errors.Is(result.Err(), ErrCircuitBreakerOpen) {
		t.Errorf("Expected circuit breaker open error, got %v", result.Err())
	}

	_, err := wrapper.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "any:key", "v", 0)
		return nil
	})
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected circuit breaker open error for transaction, got %v", err)
	}
}

func TestRedisWrapper_RedisNilHandling(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	settings := StoreSettings()
	settings.FailureThreshold = 1
	wrapper := NewRedisWrapper(client, "test-store-nil", settings, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result := wrapper.Get(ctx, "nonexistent:key")
		if !errors.Is(result.Err(), redis.Nil) {
			t.Errorf("Expected redis.Nil, got %v", result.Err())
		}
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil results")
	}
}
