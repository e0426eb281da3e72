package pricing

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	pmetrics "github.com/dumplingcafe/research/internal/metrics"
	"github.com/dumplingcafe/research/internal/models"
)

// DefaultUnknownModelCost is charged per call for models missing from the table.
const DefaultUnknownModelCost = 0.001

// ModelPrice is USD per million tokens.
type ModelPrice struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// config mirrors the pricing parts of config/models.yaml
type config struct {
	Pricing struct {
		Defaults struct {
			UnknownModelCost *float64 `yaml:"unknown_model_cost"`
		} `yaml:"defaults"`
		Models map[string]ModelPrice `yaml:"models"`
	} `yaml:"pricing"`
	Models []models.ChatModel `yaml:"models"`
}

// Table maps model ids to token prices. Safe for concurrent use; Reload swaps
// the whole table atomically.
type Table struct {
	mu          sync.RWMutex
	prices      map[string]ModelPrice
	unknownCost float64
	path        string
	logger      *zap.Logger
}

// NewTable builds a table from explicit prices.
func NewTable(prices map[string]ModelPrice, unknownCost float64) *Table {
	cp := make(map[string]ModelPrice, len(prices))
	for id, p := range prices {
		cp[id] = p
	}
	return &Table{prices: cp, unknownCost: unknownCost, logger: zap.NewNop()}
}

// FromCatalog builds a table from the prices carried by catalog entries.
func FromCatalog(c *models.Catalog, unknownCost float64) *Table {
	prices := make(map[string]ModelPrice)
	for _, m := range c.All() {
		prices[m.ID] = ModelPrice{InputPerMillion: m.InputPerMillion, OutputPerMillion: m.OutputPerMillion}
	}
	return NewTable(prices, unknownCost)
}

// Default returns the built-in price table.
func Default() *Table {
	return FromCatalog(models.DefaultCatalog(), DefaultUnknownModelCost)
}

// Load reads prices from a models.yaml file.
func Load(path string, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{path: path, logger: logger}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the backing file. Tables built in code ignore it. On error
// the previous prices stay in effect.
func (t *Table) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read pricing config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse pricing config: %w", err)
	}

	prices := make(map[string]ModelPrice, len(cfg.Models)+len(cfg.Pricing.Models))
	for _, m := range cfg.Models {
		prices[m.ID] = ModelPrice{InputPerMillion: m.InputPerMillion, OutputPerMillion: m.OutputPerMillion}
	}
	// explicit pricing entries win over catalog entries
	for id, p := range cfg.Pricing.Models {
		prices[id] = p
	}
	for id, p := range prices {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("negative price for %s", id)
		}
	}
	unknown := DefaultUnknownModelCost
	if v := cfg.Pricing.Defaults.UnknownModelCost; v != nil {
		if *v < 0 {
			return errors.New("pricing.defaults.unknown_model_cost must be >= 0")
		}
		unknown = *v
	}

	t.mu.Lock()
	t.prices = prices
	t.unknownCost = unknown
	t.mu.Unlock()

	t.logger.Info("Loaded pricing configuration",
		zap.String("path", t.path),
		zap.Int("models", len(prices)),
		zap.Float64("unknown_model_cost", unknown),
	)
	return nil
}

// Price returns the price entry for model, ignoring the web search suffix.
func (t *Table) Price(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[models.StripWebSearch(model)]
	return p, ok
}

// UnknownModelCost is the flat per-call charge for unpriced models.
func (t *Table) UnknownModelCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unknownCost
}

// Cost returns the USD cost of one call. No usage costs nothing; an unknown
// model costs the flat fallback.
func (t *Table) Cost(model string, usage *models.TokenUsage) float64 {
	if usage == nil {
		return 0
	}
	in, out := usage.PromptTokens, usage.CompletionTokens
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}

	p, ok := t.Price(model)
	if !ok {
		if models.StripWebSearch(model) == "" {
			pmetrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
		} else {
			pmetrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
		}
		return t.UnknownModelCost()
	}
	// separate float64 conversions keep the sum from being fused into an FMA
	inCost := float64(in) * p.InputPerMillion
	outCost := float64(out) * p.OutputPerMillion
	return (inCost + outCost) / 1_000_000
}

// ValidateMap validates a raw models.yaml map for the config manager.
func ValidateMap(m map[string]interface{}) error {
	if p, ok := m["pricing"].(map[string]interface{}); ok {
		if d, ok := p["defaults"].(map[string]interface{}); ok {
			if v, ok := number(d["unknown_model_cost"]); ok && v < 0 {
				return errors.New("pricing.defaults.unknown_model_cost must be >= 0")
			}
		}
		if entries, ok := p["models"].(map[string]interface{}); ok {
			for id, raw := range entries {
				if err := validateEntry(id, raw); err != nil {
					return err
				}
			}
		}
	}
	if list, ok := m["models"].([]interface{}); ok {
		for i, raw := range list {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				return fmt.Errorf("models[%d] is not a mapping", i)
			}
			id, _ := entry["id"].(string)
			if id == "" {
				return fmt.Errorf("models[%d] has no id", i)
			}
			if err := validateEntry(id, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateEntry(id string, raw interface{}) error {
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	if v, ok := number(entry["input_per_million"]); ok && v < 0 {
		return errors.New("negative input_per_million for " + id)
	}
	if v, ok := number(entry["output_per_million"]); ok && v < 0 {
		return errors.New("negative output_per_million for " + id)
	}
	return nil
}

// yaml.v3 decodes whole numbers as int
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
