package db

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dumplingcafe/research/internal/circuitbreaker"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/store"
	"github.com/dumplingcafe/research/internal/store/storetest"
)

var columns = []string{"id", "query", "mode", "status", "progress", "critic_enabled", "models", "results", "logs", "total_cost", "created_at", "updated_at"}

const modelsJSON = `{"planner":"p","researcher":"r","writer":"w","critic":"c"}`

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	c := NewClientFromDB(sqlx.NewDb(raw, "postgres"), circuitbreaker.StoreSettings(), zaptest.NewLogger(t))
	return c, mock
}

func sampleTask() *models.ResearchTask {
	return &models.ResearchTask{
		ID:            "t1",
		Query:         "Quantum Computing",
		Mode:          models.ModeDeep,
		Models:        models.ResearchModels{Planner: "p", Researcher: "r", Writer: "w", Critic: "c"},
		CriticEnabled: true,
		Status:        models.StatusResearching,
		Progress:      20,
		Logs:          []models.LogEntry{{Agent: "System", Message: "Research task initialized.", Timestamp: 1000}},
		TotalCost:     0.0125,
		Timestamp:     1000,
		UpdatedAt:     1500,
	}
}

func TestSaveUpsertsRow(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO research_tasks").
		WithArgs(
			"t1", "Quantum Computing", "deep", "researching", 20, true,
			modelsJSON,
			`[]`,
			`[{"agent":"System","message":"Research task initialized.","timestamp":1000}]`,
			0.0125, int64(1000), int64(1500),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.Save(context.Background(), sampleTask()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansJSONColumns(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + ` WHERE id = $1`)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"t1", "Quantum Computing", "deep", "completed", 100, true,
			modelsJSON, `["## A","## B"]`, `[{"agent":"Planner","message":"Sections: A, B","timestamp":1200}]`,
			0.5, int64(1000), int64(2000),
		))

	task, err := c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, []string{"## A", "## B"}, task.Results)
	assert.Equal(t, "Planner", task.Logs[0].Agent)
	assert.Equal(t, "w", task.Models.Writer)
	assert.Equal(t, int64(1000), task.Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingIsNotFound(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery("SELECT (.+) FROM research_tasks WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := c.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	assert.False(t, c.IsCircuitBreakerOpen())
}

func TestListOrdersNewestFirst(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectColumns + ` ORDER BY created_at DESC, id ASC`)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b", "q2", "quick", "completed", 100, false, modelsJSON, `["x"]`, `[]`, 0.1, int64(2000), int64(2000)).
			AddRow("a", "q1", "deep", "failed", 40, true, modelsJSON, `[]`, `[]`, 0.2, int64(1000), int64(1000)))

	tasks, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].ID)
	assert.Equal(t, models.ModeQuick, tasks[0].Mode)
	assert.Equal(t, "a", tasks[1].ID)
}

func TestDelete(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM research_tasks WHERE id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM research_tasks WHERE id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.Delete(context.Background(), "t1"))
	assert.True(t, errors.Is(c.Delete(context.Background(), "t1"), store.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS research_tasks").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, c.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c, mock := newMockClient(t)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO research_tasks").WillReturnError(errors.New("connection reset"))
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.Error(t, c.Save(ctx, sampleTask()))
	}
	assert.True(t, c.IsCircuitBreakerOpen())

	err := c.Save(ctx, sampleTask())
	assert.True(t, errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewClientRejectsUnknownDriver(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Driver: "mysql"}, nil)
	require.Error(t, err)
}

func TestJSONScan(t *testing.T) {
	var j JSON[[]string]
	require.NoError(t, j.Scan([]byte(`["a"]`)))
	assert.Equal(t, []string{"a"}, j.Val)
	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.Val)
	assert.Error(t, j.Scan(42))
}

func TestSQLiteTaskStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TaskStore {
		dsn := "file:" + filepath.Join(t.TempDir(), "research.db") + "?_busy_timeout=5000"
		c, err := NewClient(context.Background(), Config{
			Driver:  DriverSQLite,
			DSN:     dsn,
			Breaker: circuitbreaker.StoreSettings(),
		}, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	})
}
