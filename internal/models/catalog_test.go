package models

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	m, ok := c.Lookup("x-ai/grok-4.1-fast:online")
	require.True(t, ok)
	assert.Equal(t, "Grok 4.1 Fast", m.Name)
	assert.Equal(t, 0.20, m.InputPerMillion)

	for _, m := range c.ModelsFor(CapabilitySearch) {
		assert.True(t, m.HasCapability(CapabilitySearch), m.ID)
	}
	assert.NotEmpty(t, c.ModelsFor(CapabilityReasoning))
	assert.Len(t, c.ModelsFor(""), len(c.All()))

	names := []string{}
	for _, p := range c.Presets() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"balanced", "fast", "quality"}, names)
}

func TestPresetModelsAreInCatalog(t *testing.T) {
	c := DefaultCatalog()
	for _, p := range c.Presets() {
		for _, id := range []string{p.Models.Planner, p.Models.Researcher, p.Models.Writer, p.Models.Critic} {
			_, ok := c.Lookup(id)
			assert.True(t, ok, "preset %s references %s", p.Name, id)
		}
	}
}

func TestResolveModels(t *testing.T) {
	c := DefaultCatalog()

	got, err := c.ResolveModels("fast", "", ResearchModels{Writer: "anthropic/claude-sonnet-4.5"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-v3.2", got.Planner)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", got.Writer)

	got, err = c.ResolveModels("", "balanced", ResearchModels{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-haiku-4.5", got.Planner)

	got, err = c.ResolveModels("custom", "fast", ResearchModels{Researcher: "r"})
	require.NoError(t, err)
	assert.Equal(t, ResearchModels{Researcher: "r"}, got)

	_, err = c.ResolveModels("turbo", "", ResearchModels{})
	assert.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestLoadCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	content := `
models:
  - id: vendor/alpha
    name: Alpha
    provider: Vendor
    tier: budget
    capabilities: [reasoning]
    input_per_million: 1.5
    output_per_million: 2.5
  - id: vendor/alpha
    name: Duplicate
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.All(), 1)
	m, ok := c.Lookup("vendor/alpha")
	require.True(t, ok)
	assert.Equal(t, "Alpha", m.Name)
	assert.Equal(t, 2.5, m.OutputPerMillion)
	// presets fall back to built-ins
	_, ok = c.Preset("fast")
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: vendor/beta\n"), 0o644))
	require.NoError(t, c.Reload())
	_, ok = c.Lookup("vendor/beta")
	assert.True(t, ok)
	_, ok = c.Lookup("vendor/alpha")
	assert.False(t, ok)
}

func TestLoadCatalogRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - name: no id\n"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSampleModelsFileMatchesBuiltins(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("..", "..", "config", "models.yaml"))
	require.NoError(t, err)

	builtin := DefaultCatalog()
	assert.Equal(t, builtin.All(), c.All())
	assert.Equal(t, builtin.Presets(), c.Presets())
}
