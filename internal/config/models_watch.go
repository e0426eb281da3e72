package config

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/pricing"
)

// WatchModelsFile registers models.yaml with m so that every accepted edit
// reloads both the price table and the model catalog. The table and catalog
// must have been loaded from path.
func WatchModelsFile(m *Manager, path string, table *pricing.Table, catalog *models.Catalog, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := filepath.Base(path)
	m.RegisterValidator(name, pricing.ValidateMap)
	m.RegisterHandler(name, func(ev ChangeEvent) error {
		if ev.Action == "initial_load" {
			return nil
		}
		err := errors.Join(table.Reload(), catalog.Reload())
		if err != nil {
			return err
		}
		logger.Info("Model catalog reloaded",
			zap.String("file", name),
			zap.String("action", ev.Action),
			zap.Int("models", len(catalog.All())),
		)
		return nil
	})
}
