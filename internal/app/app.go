// Package app assembles the research service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/auth"
	"github.com/dumplingcafe/research/internal/config"
	"github.com/dumplingcafe/research/internal/db"
	"github.com/dumplingcafe/research/internal/health"
	"github.com/dumplingcafe/research/internal/httpapi"
	"github.com/dumplingcafe/research/internal/llm"
	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/pricing"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/store"
	"github.com/dumplingcafe/research/internal/store/memory"
	"github.com/dumplingcafe/research/internal/store/redisstore"
	"github.com/dumplingcafe/research/internal/streaming"
	"github.com/dumplingcafe/research/internal/tracing"
)

// App is a fully wired research service.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        store.TaskStore
	Prices       *pricing.Table
	Catalog      *models.Catalog
	Events       *streaming.Manager
	Orchestrator *research.Orchestrator
	Health       *health.Manager
	JWT          *auth.JWTManager

	watcher         *config.Manager
	shutdownTracing func(context.Context) error
}

// Option customises New.
type Option func(*options)

type options struct {
	completer llm.Completer
	store     store.TaskStore
}

// WithCompleter replaces the OpenRouter client.
func WithCompleter(c llm.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithStore replaces the configured task store.
func WithStore(s store.TaskStore) Option {
	return func(o *options) { o.store = s }
}

// New builds every component and reloads persisted tasks. On error the
// components opened so far are closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, shutdownTracing: func(context.Context) error { return nil }}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if o.store != nil {
		a.Store = o.store
	} else {
		s, err := OpenStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		a.Store = s
	}

	if err := a.loadCatalog(ctx); err != nil {
		return nil, err
	}

	completer := o.completer
	if completer == nil {
		completer = llm.NewOpenRouterClient(cfg.OpenRouter.Client(), nil, logger)
	}
	runner := agents.NewRunner(completer, a.Prices, logger, agents.Options{
		Subtopics:       cfg.Research.Subtopics,
		PassingScore:    cfg.Research.PassingScore,
		WriterMaxTokens: cfg.Research.WriterMaxTokens,
	})

	a.Events = streaming.NewManager(cfg.Streaming.RingCapacity)
	tracker := research.NewTracker(a.Store, a.Events, logger)
	n, err := tracker.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load research tasks: %w", err)
	}
	logger.Info("Research tasks loaded", zap.Int("count", n), zap.String("store", cfg.Store.Driver))
	a.Orchestrator = research.NewOrchestrator(runner, tracker, cfg.Research.Config, logger)

	a.Health = health.NewManager(logger)
	if p, ok := a.Store.(health.Pinger); ok {
		if err := a.Health.RegisterChecker(health.NewStoreChecker("task_store", p)); err != nil {
			return nil, err
		}
	}
	apiKey := cfg.OpenRouter.APIKey
	if err := a.Health.RegisterChecker(health.NewCredentialChecker(func() bool { return apiKey != "" })); err != nil {
		return nil, err
	}

	if cfg.Auth.Enabled {
		a.JWT = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	}
	return a, nil
}

// OpenStore opens the task store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.TaskStore, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return memory.New(), nil
	case config.StoreRedis:
		s, err := redisstore.New(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres, config.StoreSQLite:
		sqlCfg := cfg.SQL
		if sqlCfg.Driver == "" {
			sqlCfg.Driver = db.DriverPostgres
			if cfg.Driver == config.StoreSQLite {
				sqlCfg.Driver = db.DriverSQLite
			}
		}
		c, err := db.NewClient(ctx, sqlCfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) loadCatalog(ctx context.Context) error {
	path := a.Config.Pricing.ModelsFile
	if path == "" {
		a.Catalog = models.DefaultCatalog()
		a.Prices = pricing.Default()
		return nil
	}

	var err error
	if a.Catalog, err = models.LoadCatalog(path); err != nil {
		return fmt.Errorf("load model catalog: %w", err)
	}
	if a.Prices, err = pricing.Load(path, a.Logger); err != nil {
		return fmt.Errorf("load pricing: %w", err)
	}
	if !a.Config.Pricing.Watch {
		return nil
	}

	a.watcher, err = config.NewManager(filepath.Dir(path), a.Logger)
	if err != nil {
		return err
	}
	config.WatchModelsFile(a.watcher, path, a.Prices, a.Catalog, a.Logger)
	if iv := a.Config.Pricing.PollInterval; iv > 0 {
		a.watcher.EnablePolling(iv)
	}
	return a.watcher.Start(ctx)
}

// Handler returns the root HTTP handler: the research API plus health and
// metrics endpoints.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.NewHTTPHandler(a.Health, a.Logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := httpapi.NewHandler(a.Orchestrator, a.Catalog, a.Events, httpapi.Options{
		DefaultPreset:    a.Config.Research.DefaultPreset,
		SubscriberBuffer: a.Config.Streaming.SubscriberBuffer,
		Heartbeat:        a.Config.Streaming.Heartbeat,
		AllowedOrigins:   a.Config.Server.AllowedOrigins,
	}, a.Logger)
	api.RegisterRoutes(mux, auth.NewMiddleware(a.JWT, !a.Config.Auth.Enabled, a.Logger))

	return httpapi.Middleware(a.Config.Server.AllowedOrigins, a.Logger, mux)
}

// Close waits for running pipelines until ctx expires, then releases the
// store, the file watcher and the tracer. Pipelines still running when ctx
// expires keep their last checkpoint.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orchestrator != nil {
		done := make(chan struct{})
		go func() {
			a.Orchestrator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.Logger.Warn("Shutdown deadline reached with research tasks still running")
		}
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, a.shutdownTracing(flushCtx))
	return errors.Join(errs...)
}
