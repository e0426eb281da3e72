// Package db persists research tasks in Postgres or SQLite through sqlx.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/circuitbreaker"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database configuration
type Config struct {
	Driver          string                  `mapstructure:"driver"`
	DSN             string                  `mapstructure:"dsn"`
	MaxConnections  int                     `mapstructure:"max_connections"`
	IdleConnections int                     `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration           `mapstructure:"max_lifetime"`
	Breaker         circuitbreaker.Settings `mapstructure:"breaker"`
}

// Client is a TaskStore on a SQL database. Every statement runs through a
// circuit breaker; sql.ErrNoRows does not count as a failure.
type Client struct {
	db     *sqlx.DB
	cb     *circuitbreaker.CircuitBreaker
	logger *zap.Logger
}

var _ store.TaskStore = (*Client)(nil)

// NewClient opens the database, checks the connection and applies the schema.
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Driver != DriverPostgres && config.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 2
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	// SQLite allows one writer; a single connection serializes checkpoints.
	if config.Driver == DriverSQLite {
		config.MaxConnections = 1
		config.IdleConnections = 1
	}

	rawDB, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(pingCtx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := NewClientFromDB(rawDB, config.Breaker, logger)
	if err := client.Migrate(ctx); err != nil {
		rawDB.Close()
		return nil, err
	}

	logger.Info("Database task store initialized",
		zap.String("driver", config.Driver),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientFromDB wraps an open handle without touching the schema.
func NewClientFromDB(db *sqlx.DB, breaker circuitbreaker.Settings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := breaker.ToConfig()
	config.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, context.Canceled)
	}
	cb := circuitbreaker.NewCircuitBreaker("database", config, logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("database", "task_store", cb)
	return &Client{db: db, cb: cb, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS research_tasks (
    id             TEXT PRIMARY KEY,
    query          TEXT NOT NULL,
    mode           TEXT NOT NULL,
    status         TEXT NOT NULL,
    progress       INTEGER NOT NULL DEFAULT 0,
    critic_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    models         TEXT NOT NULL,
    results        TEXT NOT NULL,
    logs           TEXT NOT NULL,
    total_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at     BIGINT NOT NULL,
    updated_at     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_research_tasks_created_at ON research_tasks (created_at DESC);`

// Migrate creates the research_tasks table if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	return c.execute(ctx, func() error {
		if _, err := c.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}

const upsertTask = `INSERT INTO research_tasks
    (id, query, mode, status, progress, critic_enabled, models, results, logs, total_cost, created_at, updated_at)
VALUES
    (:id, :query, :mode, :status, :progress, :critic_enabled, :models, :results, :logs, :total_cost, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET
    status = excluded.status,
    progress = excluded.progress,
    results = excluded.results,
    logs = excluded.logs,
    total_cost = excluded.total_cost,
    updated_at = excluded.updated_at`

const selectColumns = `SELECT id, query, mode, status, progress, critic_enabled, models, results, logs, total_cost, created_at, updated_at FROM research_tasks`

// Save upserts the task.
func (c *Client) Save(ctx context.Context, task *models.ResearchTask) error {
	row := toRow(task)
	return c.execute(ctx, func() error {
		if _, err := c.db.NamedExecContext(ctx, upsertTask, row); err != nil {
			return fmt.Errorf("failed to save task %s: %w", task.ID, err)
		}
		return nil
	})
}

func (c *Client) Get(ctx context.Context, id string) (*models.ResearchTask, error) {
	var row taskRow
	err := c.execute(ctx, func() error {
		return c.db.GetContext(ctx, &row, c.db.Rebind(selectColumns+` WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return row.task(), nil
}

func (c *Client) List(ctx context.Context) ([]*models.ResearchTask, error) {
	var rows []taskRow
	err := c.execute(ctx, func() error {
		return c.db.SelectContext(ctx, &rows, selectColumns+` ORDER BY created_at DESC, id ASC`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]*models.ResearchTask, len(rows))
	for i, r := range rows {
		tasks[i] = r.task()
	}
	return tasks, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	var affected int64
	err := c.execute(ctx, func() error {
		res, err := c.db.ExecContext(ctx, c.db.Rebind(`DELETE FROM research_tasks WHERE id = ?`), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping checks connectivity for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	return c.execute(ctx, func() error { return c.db.PingContext(ctx) })
}

// IsCircuitBreakerOpen reports whether the database breaker is rejecting calls.
func (c *Client) IsCircuitBreakerOpen() bool {
	return c.cb.State() == circuitbreaker.StateOpen
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) execute(ctx context.Context, fn func() error) error {
	err := c.cb.Execute(ctx, fn)
	success := err == nil || errors.Is(err, sql.ErrNoRows)
	circuitbreaker.GlobalMetricsCollector.RecordRequest("database", "task_store", c.cb.State(), success)
	return err
}
