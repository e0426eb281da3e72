// Package redisstore persists research tasks in Redis.
//
// Each task is a JSON document under research:task:<id>; the sorted set
// research:tasks indexes ids by creation time for newest-first listing.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/circuitbreaker"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
)

const (
	keyPrefix = "research:task:"
	indexKey  = "research:tasks"
)

// Config selects the Redis server.
type Config struct {
	Addr     string                  `mapstructure:"addr"`
	Password string                  `mapstructure:"password"`
	DB       int                     `mapstructure:"db"`
	Breaker  circuitbreaker.Settings `mapstructure:"breaker"`
}

// Store is a TaskStore backed by Redis through a circuit breaker.
type Store struct {
	rw     *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

var _ store.TaskStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(client, cfg.Breaker, logger)
	if err := s.rw.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	s.logger.Info("Redis task store connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, breaker circuitbreaker.Settings, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		rw:     circuitbreaker.NewRedisWrapper(client, "task_store", breaker, logger),
		logger: logger,
	}
}

func taskKey(id string) string { return keyPrefix + id }

// Save writes the task document and its index entry in one transaction.
func (s *Store) Save(ctx context.Context, task *models.ResearchTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	_, err = s.rw.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, 0)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(task.Timestamp), Member: task.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.ResearchTask, error) {
	data, err := s.rw.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var task models.ResearchTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

// List reads every indexed task. Index entries whose document is gone are
// skipped, as are documents that fail to decode.
func (s *Store) List(ctx context.Context) ([]*models.ResearchTask, error) {
	ids, err := s.rw.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list task index: %w", err)
	}
	if len(ids) == 0 {
		return []*models.ResearchTask{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	values, err := s.rw.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	tasks := make([]*models.ResearchTask, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var task models.ResearchTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			s.logger.Warn("Skipping undecodable task", zap.String("task_id", ids[i]), zap.Error(err))
			continue
		}
		tasks = append(tasks, &task)
	}
	store.SortNewestFirst(tasks)
	return tasks, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.rw.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, taskKey(id))
		pipe.ZRem(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.rw.Ping(ctx).Err()
}

// IsCircuitBreakerOpen reports whether Redis calls are being short-circuited.
func (s *Store) IsCircuitBreakerOpen() bool {
	return s.rw.IsCircuitBreakerOpen()
}

func (s *Store) Close() error {
	return s.rw.Close()
}
