// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/casesync/internal/api"
	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/config"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/engine"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/eviction"
	"github.com/wingedpig/casesync/internal/logging"
	"github.com/wingedpig/casesync/internal/metrics"
	"github.com/wingedpig/casesync/internal/pending"
	"github.com/wingedpig/casesync/internal/recovery"
	"github.com/wingedpig/casesync/internal/store"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	config     *config.Config
	logger     *slog.Logger

	store    store.Store
	backend  backend.Backend
	eventBus *events.MemoryBus
	engine   *engine.Engine
	metrics  *metrics.Recorder

	apiServer *api.Server
	serveErr  chan error

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string

	// LogOutput receives the structured log. Defaults to stderr.
	LogOutput io.Writer
	// Backend replaces the HTTP backend client.
	Backend backend.Backend
	// Store replaces the configured store.
	Store store.Store
}

// New loads and validates the configuration and builds the logger. No
// component is started.
func New(opts Options) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	loader := config.NewLoader()
	if opts.ConfigPath != "" {
		cfg, err = loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig builds an app from an already loaded configuration.
func NewWithConfig(cfg *config.Config, opts Options) (*App, error) {
	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Logging.Level = "debug"
	}
	// An injected backend needs no base URL.
	if opts.Backend != nil && cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://injected.invalid"
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(cfg.Logging, out)
	if err != nil {
		return nil, err
	}

	return &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		config:     cfg,
		logger:     logger,
		store:      opts.Store,
		backend:    opts.Backend,
		done:       make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (app *App) Config() *config.Config { return app.config }

// Logger returns the application logger.
func (app *App) Logger() *slog.Logger { return app.logger }

// Engine returns the engine. It is nil before Initialize.
func (app *App) Engine() *engine.Engine { return app.engine }

// Bus returns the event bus. It is nil before Initialize.
func (app *App) Bus() events.Bus { return app.eventBus }

// Initialize opens the store and builds the engine and its collaborators.
// The engine is not started.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	if app.store == nil {
		st, err := store.Open(store.Config{
			Backend: cfg.Store.Backend,
			Path:    cfg.Store.Path,
			Logger:  app.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		app.store = st
	}
	app.logger.Info("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	if app.backend == nil {
		app.backend = backend.NewClient(cfg.Backend.BaseURL,
			backend.WithToken(cfg.Backend.Token),
			backend.WithTimeout(cfg.Backend.TimeoutDuration()),
			backend.WithRetries(cfg.Backend.Retries, 200*time.Millisecond, 5*time.Second),
			backend.WithLogger(app.logger.With("component", "backend")),
		)
	}

	app.eventBus = events.NewMemoryBus(events.MemoryBusConfig{
		History: events.HistoryConfig{
			MaxEvents: cfg.Events.History.MaxEvents,
			MaxAge:    cfg.Events.History.MaxAgeDuration(),
		},
		Logger: app.logger.With("component", "events"),
	})

	eng, err := engine.New(engine.Config{
		Store:         app.store,
		Backend:       app.backend,
		Bus:           app.eventBus,
		Logger:        app.logger,
		Listener:      app.listener(),
		TitleDebounce: cfg.Titles.DebounceDuration(),
		TitleMaxWait:  cfg.Titles.MaxWaitDuration(),
		Eviction: eviction.Config{
			Interval:         cfg.Eviction.IntervalDuration(),
			MaxAge:           cfg.Eviction.MaxAgeDuration(),
			MaxConversations: cfg.Eviction.MaxConversations,
			MaxMessages:      cfg.Eviction.MaxMessages,
		},
		Conflicts: conflict.Config{
			AutoMergeThreshold:  cfg.Conflicts.AutoMergeThreshold,
			SimilarityThreshold: cfg.Conflicts.SimilarityThreshold,
		},
		Recovery: recovery.Config{
			Concurrency:   cfg.Recovery.Concurrency,
			RatePerSecond: cfg.Recovery.RatePerSecond,
		},
		BackupsPerCase: cfg.Conflicts.BackupsPerCase,
		WatchStore:     cfg.Store.IsWatching(),
		Strict:         cfg.Strict,
	})
	if err != nil {
		app.store.Close()
		app.store = nil
		return fmt.Errorf("failed to create engine: %w", err)
	}
	app.engine = eng

	app.metrics = metrics.New(metrics.Sources{
		PendingOperations: func() int { return unfinished(eng) },
		AwaitingConflicts: func() int { return len(eng.Conflicts()) },
		Cases:             func() int { return len(eng.Cases()) },
	})
	if err := app.metrics.Attach(app.eventBus); err != nil {
		return fmt.Errorf("failed to attach metrics: %w", err)
	}
	return nil
}

func unfinished(eng *engine.Engine) int {
	n := 0
	for _, op := range eng.Operations() {
		if op.Status != pending.StatusCompleted {
			n++
		}
	}
	return n
}

// listener logs what a UI would surface to the user.
func (app *App) listener() engine.Listener {
	logger := app.logger.With("component", "ui")
	return engine.Listener{
		OnConflict: func(h *conflict.Handle) {
			c := h.Conflict()
			logger.Warn("conflict awaiting decision", "conflict", c.ID, "type", c.Type, "severity", c.Severity, "case", c.Local.CaseID)
		},
		OnAuthRequired: func(err apperr.UserError) {
			logger.Warn("backend session expired", "op", err.Op, "hint", err.Hint)
		},
		OnError: func(err apperr.UserError) {
			logger.Info("operation failed", "op", err.Op, "case", err.CaseID, "kind", err.Kind, "hint", err.Hint)
		},
	}
}

// Open initializes and starts the engine without the API server. Commands
// that run one maintenance task use it.
func (app *App) Open(ctx context.Context) (*engine.Engine, error) {
	if err := app.Initialize(ctx); err != nil {
		return nil, err
	}
	if err := app.engine.Start(ctx); err != nil {
		app.Shutdown(ctx)
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return app.engine, nil
}

// Start starts the engine and the API server.
func (app *App) Start(ctx context.Context) error {
	if err := app.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	cfg := app.config
	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Engine:  app.engine,
		Bus:     app.eventBus,
		Metrics: app.metrics.Handler(),
		Logger:  app.logger.With("component", "api"),
	})

	// Start API server in background
	app.serveErr = make(chan error, 1)
	go func() {
		app.logger.Info("starting API server", "addr", cfg.Server.Addr(), "version", app.version)
		if err := app.apiServer.ListenAndServe(); err != nil {
			app.logger.Error("API server error", "error", err)
			app.serveErr <- err
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown(context.Background())
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		app.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		app.logger.Info("context cancelled, shutting down")
	case <-app.done:
		app.logger.Info("shutdown requested")
	case runErr = <-app.serveErr:
	}

	return errors.Join(runErr, app.Shutdown(context.Background()))
}

// Shutdown stops the API server, then the engine, and closes the store.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.logger.Info("shutting down")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
		app.apiServer = nil
	}

	// Flushes debounced titles and waits for in-flight operations
	if app.engine != nil {
		if err := app.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine: %w", err))
		}
		app.engine = nil
	}

	if app.metrics != nil {
		app.metrics.Detach()
		app.metrics = nil
	}

	if app.eventBus != nil {
		app.eventBus.Close()
		app.eventBus = nil
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		app.store = nil
	}

	app.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Stop asks Run to return.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
