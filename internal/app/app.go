package app

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *registry.Registry
	metrics  *metrics.Registry
	runID    string

	mu     sync.Mutex
	broker *broker.Broker
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger, metrics and
// registry. Without modules the core modules are registered.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) *App {
	runID := uuid.NewString()
	logger := newLogger(cfg, runID, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := registry.New(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules),
		"node_kinds", reg.NodeKinds(), "bridges", reg.Bridges())

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		metrics:  metrics.NewRegistry(),
		runID:    runID,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Metrics returns the application's metrics registry.
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

func (a *App) setBroker(b *broker.Broker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broker = b
}

func (a *App) currentBroker() *broker.Broker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broker
}
