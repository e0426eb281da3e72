package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/dumplingcafe/research/internal/models"
)

// JSON stores a value as a JSON text column. TEXT rather than jsonb keeps the
// schema portable between Postgres and SQLite.
type JSON[T any] struct {
	Val T
}

// Value implements the driver.Valuer interface
func (j JSON[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.Val)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON[T]) Scan(value interface{}) error {
	var zero T
	switch v := value.(type) {
	case nil:
		j.Val = zero
		return nil
	case []byte:
		return json.Unmarshal(v, &j.Val)
	case string:
		return json.Unmarshal([]byte(v), &j.Val)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
}

// taskRow is a research_tasks row
type taskRow struct {
	ID            string                      `db:"id"`
	Query         string                      `db:"query"`
	Mode          string                      `db:"mode"`
	Status        string                      `db:"status"`
	Progress      int                         `db:"progress"`
	CriticEnabled bool                        `db:"critic_enabled"`
	Models        JSON[models.ResearchModels] `db:"models"`
	Results       JSON[[]string]              `db:"results"`
	Logs          JSON[[]models.LogEntry]     `db:"logs"`
	TotalCost     float64                     `db:"total_cost"`
	CreatedAt     int64                       `db:"created_at"`
	UpdatedAt     int64                       `db:"updated_at"`
}

func toRow(t *models.ResearchTask) taskRow {
	results := t.Results
	if results == nil {
		results = []string{}
	}
	logs := t.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	return taskRow{
		ID:            t.ID,
		Query:         t.Query,
		Mode:          string(t.Mode),
		Status:        string(t.Status),
		Progress:      t.Progress,
		CriticEnabled: t.CriticEnabled,
		Models:        JSON[models.ResearchModels]{Val: t.Models},
		Results:       JSON[[]string]{Val: results},
		Logs:          JSON[[]models.LogEntry]{Val: logs},
		TotalCost:     t.TotalCost,
		CreatedAt:     t.Timestamp,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (r taskRow) task() *models.ResearchTask {
	return &models.ResearchTask{
		ID:            r.ID,
		Query:         r.Query,
		Mode:          models.Mode(r.Mode),
		Status:        models.Status(r.Status),
		Progress:      r.Progress,
		CriticEnabled: r.CriticEnabled,
		Models:        r.Models.Val,
		Results:       r.Results.Val,
		Logs:          r.Logs.Val,
		TotalCost:     r.TotalCost,
		Timestamp:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
