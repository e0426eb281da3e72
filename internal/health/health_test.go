package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	err     error
	open    bool
	latency time.Duration
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	return f.err
}

func (f *fakeStore) IsCircuitBreakerOpen() bool { return f.open }

func TestStoreChecker(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
		want  CheckStatus
	}{
		{"healthy", &fakeStore{}, StatusHealthy},
		{"ping error", &fakeStore{err: errors.New("refused")}, StatusUnhealthy},
		{"breaker open", &fakeStore{open: true}, StatusUnhealthy},
		{"slow", &fakeStore{latency: 20 * time.Millisecond}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStoreChecker("store", tt.store)
			c.slow = 10 * time.Millisecond
			assert.Equal(t, tt.want, c.Check(context.Background()).Status)
		})
	}
}

func TestManagerAggregates(t *testing.T) {
	hasKey := false
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewStoreChecker("store", &fakeStore{})))
	require.NoError(t, m.RegisterChecker(NewCredentialChecker(func() bool { return hasKey })))
	assert.Error(t, m.RegisterChecker(NewStoreChecker("store", &fakeStore{})))
	assert.Equal(t, []string{"openrouter", "store"}, m.Names())

	detailed := m.GetDetailedHealth(context.Background())
	assert.Equal(t, StatusDegraded, detailed.Overall.Status)
	assert.True(t, detailed.Overall.Ready)
	assert.Equal(t, 2, detailed.Summary.Total)
	assert.Equal(t, 1, detailed.Summary.Degraded)
	assert.Equal(t, 1, detailed.Summary.Critical)
	assert.Equal(t, "store", detailed.Components["store"].Component)

	hasKey = true
	assert.Equal(t, StatusHealthy, m.GetOverallHealth(context.Background()).Status)
}

func TestManagerCriticalFailureNotReady(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewStoreChecker("store", &fakeStore{err: errors.New("down")})))
	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.True(t, overall.Live)
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewStoreChecker("store", &fakeStore{err: errors.New("down")})))
	mux := http.NewServeMux()
	NewHTTPHandler(m, nil).RegisterRoutes(mux)

	for path, want := range map[string]int{
		"/health":          http.StatusServiceUnavailable,
		"/health/ready":    http.StatusServiceUnavailable,
		"/health/live":     http.StatusOK,
		"/health/detailed": http.StatusServiceUnavailable,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	overall := body["overall"].(map[string]interface{})
	assert.Equal(t, "unhealthy", overall["status"])
}
