package models

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Model tiers
const (
	TierFree     = "free"
	TierBudget   = "budget"
	TierMid      = "mid"
	TierPremium  = "premium"
	TierFrontier = "frontier"
)

// Capability tags used to offer models per role.
const (
	CapabilityReasoning = "reasoning"
	CapabilitySearch    = "search"
	CapabilityAgentic   = "agentic"
	CapabilityWriting   = "writing"
	CapabilityResearch  = "research"
)

// ChatModel describes one selectable chat model and its price.
type ChatModel struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	Provider         string   `json:"provider" yaml:"provider"`
	Context          string   `json:"context,omitempty" yaml:"context"`
	Description      string   `json:"description,omitempty" yaml:"description"`
	Capabilities     []string `json:"capabilities" yaml:"capabilities"`
	Tier             string   `json:"tier" yaml:"tier"`
	InputPerMillion  float64  `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64  `json:"output_per_million" yaml:"output_per_million"`
}

// HasCapability reports whether the model is tagged with c.
func (m ChatModel) HasCapability(c string) bool {
	for _, have := range m.Capabilities {
		if strings.EqualFold(have, c) {
			return true
		}
	}
	return false
}

// Preset is a named role -> model mapping.
type Preset struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Models      ResearchModels `json:"models" yaml:"models"`
}

var (
	ErrUnknownPreset = errors.New("unknown research preset")
	ErrUnknownModel  = errors.New("unknown model")
)

// catalogFile mirrors config/models.yaml.
type catalogFile struct {
	Models  []ChatModel       `yaml:"models"`
	Presets map[string]Preset `yaml:"presets"`
}

// Catalog holds the selectable chat models and research presets.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	models  []ChatModel
	byID    map[string]ChatModel
	presets map[string]Preset
}

// NewCatalog builds a catalog from explicit entries.
func NewCatalog(entries []ChatModel, presets map[string]Preset) *Catalog {
	c := &Catalog{}
	c.replace(entries, presets)
	return c
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultModels(), defaultPresets())
}

// LoadCatalog reads the catalog from a models.yaml file. Missing presets fall
// back to the built-in ones.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the file the catalog was loaded from.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read model catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse model catalog: %w", err)
	}
	for _, m := range f.Models {
		if m.ID == "" {
			return fmt.Errorf("parse model catalog: entry without id")
		}
	}
	if len(f.Models) == 0 {
		f.Models = defaultModels()
	}
	if len(f.Presets) == 0 {
		f.Presets = defaultPresets()
	}
	c.replace(f.Models, f.Presets)
	return nil
}

func (c *Catalog) replace(entries []ChatModel, presets map[string]Preset) {
	byID := make(map[string]ChatModel, len(entries))
	list := make([]ChatModel, 0, len(entries))
	for _, m := range entries {
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = m
		list = append(list, m)
	}
	ps := make(map[string]Preset, len(presets))
	for name, p := range presets {
		if p.Name == "" {
			p.Name = name
		}
		ps[name] = p
	}

	c.mu.Lock()
	c.models = list
	c.byID = byID
	c.presets = ps
	c.mu.Unlock()
}

// Lookup finds a model by id; the web search suffix is ignored.
func (c *Catalog) Lookup(id string) (ChatModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[StripWebSearch(id)]
	return m, ok
}

// All returns every model in catalog order.
func (c *Catalog) All() []ChatModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ChatModel(nil), c.models...)
}

// ModelsFor returns the models tagged with capability; an empty capability
// returns every model.
func (c *Catalog) ModelsFor(capability string) []ChatModel {
	if capability == "" {
		return c.All()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ChatModel
	for _, m := range c.models {
		if m.HasCapability(capability) {
			out = append(out, m)
		}
	}
	return out
}

// Presets returns all presets sorted by name.
func (c *Catalog) Presets() []Preset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Preset returns the named preset.
func (c *Catalog) Preset(name string) (Preset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presets[name]
	return p, ok
}

// ResolveModels merges override on top of the named preset. An empty preset
// name uses fallbackPreset.
func (c *Catalog) ResolveModels(preset, fallbackPreset string, override ResearchModels) (ResearchModels, error) {
	if preset == "" {
		preset = fallbackPreset
	}
	if preset == "" || preset == "custom" {
		return ResearchModels{}.Merge(override), nil
	}
	p, ok := c.Preset(preset)
	if !ok {
		return ResearchModels{}, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
	}
	return p.Models.Merge(override), nil
}
