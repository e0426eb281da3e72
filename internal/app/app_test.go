package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dumplingcafe/research/internal/config"
	"github.com/dumplingcafe/research/internal/llm/llmtest"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/research"
)

const modelsYAML = `
models:
  - id: test/model
    name: Test
    provider: test
    capabilities: [research, writing]
    tier: budget
    input_per_million: 1
    output_per_million: 2
presets:
  fast:
    name: fast
    models:
      planner: test/model
      researcher: test/model
      writer: test/model
      critic: test/model
pricing:
  defaults:
    unknown_model_cost: 0.5
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("RESEARCH_CONFIG_PATH", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestAppServesResearchEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelsYAML), 0o644))
	cfg.Pricing.ModelsFile = path

	fake := llmtest.New(llmtest.Sequence(llmtest.Reply{Content: "quick answer", Usage: llmtest.Usage(1000, 1000)}))
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithCompleter(fake))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/research", "application/json",
		strings.NewReader(`{"query":"q","mode":"quick"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	a.Orchestrator.Wait()
	tasks := a.Orchestrator.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusCompleted, tasks[0].Status)
	// 1000 * 1/1e6 + 1000 * 2/1e6 with the :online suffix stripped
	assert.InDelta(t, 0.003, tasks[0].TotalCost, 1e-12)
	require.Len(t, fake.Calls(), 1)
	assert.Equal(t, "test/model:online", fake.Calls()[0].Model)

	for path, want := range map[string]int{
		"/health":       http.StatusOK,
		"/health/ready": http.StatusOK,
		"/metrics":      http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestAppReloadsTasksFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreRedis
	cfg.Store.Redis.Addr = mr.Addr()
	fake := llmtest.New(llmtest.Sequence(llmtest.Reply{Content: "answer", Usage: llmtest.Usage(10, 10)}))

	first, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithCompleter(fake))
	require.NoError(t, err)
	id, err := first.Orchestrator.StartResearch(context.Background(), research.Request{
		Query:  "persist me",
		Mode:   models.ModeQuick,
		Models: models.ResearchModels{Researcher: "x-ai/grok-4.1-fast"},
	})
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background()))

	second, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithCompleter(fake))
	require.NoError(t, err)
	defer second.Close(context.Background())

	task, err := second.Orchestrator.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, []string{"answer"}, task.Results)
	assert.Contains(t, second.Health.Names(), "task_store")
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "etcd"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = config.StoreRedis
	cfg.Store.Redis.Addr = "127.0.0.1:1"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
