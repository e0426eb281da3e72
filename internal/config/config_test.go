package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/db"
	"github.com/dumplingcafe/research/internal/llm"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Setenv("RESEARCH_CONFIG_PATH", "")
	t.Setenv("OPENROUTER_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, llm.DefaultBaseURL, cfg.OpenRouter.BaseURL)
	assert.Equal(t, 120*time.Second, cfg.OpenRouter.Timeout)
	assert.Equal(t, uint32(5), cfg.OpenRouter.Breaker.FailureThreshold)
	assert.Equal(t, uint32(3), cfg.Store.Redis.Breaker.FailureThreshold)
	assert.True(t, cfg.Research.CriticEnabled)
	assert.Equal(t, agents.SubtopicTruncate, cfg.Research.SubtopicPolicy)
	assert.Equal(t, 3, cfg.Research.Subtopics)
	assert.Equal(t, "fast", cfg.Research.DefaultPreset)
	assert.Equal(t, 600, cfg.Research.WriterMaxTokens)
	assert.Equal(t, 8, cfg.Research.PassingScore)
	assert.Equal(t, 256, cfg.Streaming.RingCapacity)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, cfg.OpenRouter.APIKey)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "research.yaml", `
server:
  addr: ":9090"
logging:
  level: debug
  format: console
store:
  driver: sqlite
  sql:
    dsn: "file:research.db"
    breaker:
      failure_threshold: 7
openrouter:
  timeout: 30s
  requests_per_second: 2.5
research:
  critic_enabled: false
  subtopic_policy: pad
  subtopics: 4
  default_preset: quality
`)
	t.Setenv("RESEARCH_SERVER_ADDR", ":7070")
	t.Setenv("RESEARCH_RESEARCH_SUBTOPICS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, db.DriverSQLite, cfg.Store.SQL.Driver)
	assert.Equal(t, "file:research.db", cfg.Store.SQL.DSN)
	assert.Equal(t, uint32(7), cfg.Store.SQL.Breaker.FailureThreshold)
	assert.Equal(t, uint32(2), cfg.Store.SQL.Breaker.SuccessThreshold, "unset breaker fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.OpenRouter.Timeout)
	assert.Equal(t, 2.5, cfg.OpenRouter.RequestsPerSecond)
	assert.False(t, cfg.Research.CriticEnabled)
	assert.Equal(t, agents.SubtopicPad, cfg.Research.SubtopicPolicy)
	assert.Equal(t, 5, cfg.Research.Subtopics)
	assert.Equal(t, "quality", cfg.Research.DefaultPreset)
}

func TestLoadFromEnvPath(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "research.yaml", "logging:\n  level: warn\n")
	t.Setenv("RESEARCH_CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestAPIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-plain")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-plain", cfg.OpenRouter.APIKey)

	t.Setenv("RESEARCH_OPENROUTER_API_KEY", "sk-or-prefixed")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-prefixed", cfg.OpenRouter.APIKey)
	assert.Equal(t, "sk-or-prefixed", cfg.OpenRouter.Client().APIKey)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown driver", "store:\n  driver: mongo\n", "unknown store.driver"},
		{"sql without dsn", "store:\n  driver: postgres\n", "store.sql.dsn is required"},
		{"bad policy", "research:\n  subtopic_policy: shuffle\n", "subtopic_policy"},
		{"too many subtopics", "research:\n  subtopics: 40\n", "between 1 and 10"},
		{"auth without secret", "auth:\n  enabled: true\n", "jwt_secret"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".yaml", tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := LoggingConfig{Level: "debug", Format: format}.NewLogger()
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(-1))
	}
	_, err := LoggingConfig{Level: "nope"}.NewLogger()
	assert.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "config", "research.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "config/models.yaml", cfg.Pricing.ModelsFile)
	assert.True(t, cfg.Pricing.Watch)
	assert.Equal(t, "research", cfg.Auth.Issuer)
}
