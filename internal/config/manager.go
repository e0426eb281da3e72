package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes one reload of a watched file.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // initial_load, create, modify, delete, manual_reload, polling_detected
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called after a watched file was loaded and validated.
type ChangeHandler func(event ChangeEvent) error

// Manager watches individual files in one directory and hands validated
// contents to registered handlers. It backs hot reload of models.yaml.
type Manager struct {
	dir      string
	configs  map[string]map[string]interface{}
	handlers map[string][]ChangeHandler

	validators map[string]func(map[string]interface{}) error

	watcher   *fsnotify.Watcher
	started   bool
	stopCh    chan struct{}
	done      sync.WaitGroup
	logger    *zap.Logger
	mu        sync.RWMutex
	watcherMu sync.Mutex

	// Polling fallback for filesystems where fsnotify is unreliable
	pollInterval time.Duration
}

// NewManager creates a manager for files in dir.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Manager{
		dir:        dir,
		configs:    make(map[string]map[string]interface{}),
		handlers:   make(map[string][]ChangeHandler),
		validators: make(map[string]func(map[string]interface{}) error),
		watcher:    watcher,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}, nil
}

// Start loads every registered file once and begins watching. Files
// without a handler or validator are ignored.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	for _, name := range m.watched() {
		path := filepath.Join(m.dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.loadFile(path, "initial_load"); err != nil {
			return fmt.Errorf("failed to load initial config: %w", err)
		}
	}

	m.mu.Lock()
	m.started = true
	poll := m.pollInterval
	m.mu.Unlock()

	m.done.Add(1)
	go m.watchLoop()
	if poll > 0 {
		m.done.Add(1)
		go m.pollLoop(poll)
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.dir),
		zap.Strings("files", m.watched()),
		zap.Duration("poll_interval", poll),
	)
	return nil
}

// Stop ends watching and waits for the watch goroutines.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	err := m.watcher.Close()
	m.done.Wait()
	m.logger.Info("Configuration manager stopped")
	return err
}

// RegisterHandler registers a change handler for a file in the directory.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// RegisterValidator registers the validator run before handlers see a file.
// A rejected file leaves the previous configuration in effect.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[filename] = validator
}

// EnablePolling adds a modification-time poll next to fsnotify.
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollInterval = interval
}

// GetConfig returns a copy of the last accepted contents of filename.
func (m *Manager) GetConfig(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(cfg), true
}

// ReloadConfig reloads filename immediately.
func (m *Manager) ReloadConfig(filename string) error {
	return m.loadFile(filepath.Join(m.dir, filename), "manual_reload")
}

func (m *Manager) watched() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for name := range m.handlers {
		seen[name] = true
		names = append(names, name)
	}
	for name := range m.validators {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

func (m *Manager) isWatched(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, h := m.handlers[filename]
	_, v := m.validators[filename]
	return h || v
}

func (m *Manager) watchLoop() {
	defer m.done.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop(interval time.Duration) {
	defer m.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastMod := make(map[string]time.Time)
	for _, name := range m.watched() {
		if info, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
			lastMod[name] = info.ModTime()
		}
	}
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, name := range m.watched() {
				path := filepath.Join(m.dir, name)
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod[name]) {
					continue
				}
				lastMod[name] = info.ModTime()
				if err := m.loadFile(path, "polling_detected"); err != nil {
					m.logger.Error("Failed to load config file", zap.String("file", name), zap.Error(err))
				}
			}
		}
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	filename := filepath.Base(event.Name)
	if !m.isWatched(filename) {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// editors replace files by rename; keep the last good config
		m.logger.Warn("Watched config file removed, keeping last configuration", zap.String("file", filename))
		return
	default:
		return
	}

	// Small delay to coalesce rapid successive writes
	time.Sleep(50 * time.Millisecond)
	if err := m.loadFile(event.Name, action); err != nil {
		m.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// loadFile parses, validates and publishes one file. Handlers run
// synchronously in registration order.
func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	filename := filepath.Base(path)
	cfg := make(map[string]interface{})
	switch filepath.Ext(filename) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return fmt.Errorf("unsupported config format for %s", filename)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", filename, err)
	}

	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()
	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	event := ChangeEvent{File: filename, Action: action, Config: copyMap(cfg), Timestamp: time.Now()}
	var firstErr error
	for _, h := range handlers {
		if err := h(event); err != nil {
			m.logger.Error("Configuration handler error",
				zap.String("filename", filename),
				zap.String("action", action),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(cfg)),
	)
	return firstErr
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
