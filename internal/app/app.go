// Package app wires configuration, storage, services, and HTTP handlers
// into a runnable application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/handlers"
	"github.com/ternarybob/verso/internal/interfaces"
	"github.com/ternarybob/verso/internal/manager"
	"github.com/ternarybob/verso/internal/metrics"
	"github.com/ternarybob/verso/internal/services/events"
	"github.com/ternarybob/verso/internal/storage"
)

// wsProgressInterval bounds how often job_progress events reach websocket
// clients. Lifecycle events are never throttled.
const wsProgressInterval = 500 * time.Millisecond

// Options carries the pluggable collaborators of the application. Pipeline
// is required; the rest are optional.
type Options struct {
	Pipeline         interfaces.Pipeline
	Hooks            interfaces.LifecycleHooks
	MetadataInferrer interfaces.MetadataInferrer
}

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Store        interfaces.JobStore
	EventService interfaces.EventService
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Manager      *manager.Manager

	// HTTP handlers
	JobHandler  *handlers.JobHandler
	FileHandler *handlers.FileHandler
	WSHandler   *handlers.WebSocketHandler

	scheduler *cron.Cron
}

// New initializes the application with all dependencies.
func New(cfg *common.Config, logger arbor.ILogger, opts Options) (*App, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("app requires a pipeline")
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := storage.NewJobStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	app.Store = store

	app.EventService = events.NewService(logger)
	app.Registry = prometheus.NewRegistry()
	app.Metrics = metrics.New(app.Registry)

	mgr, err := manager.NewManager(manager.Options{
		Config:           cfg,
		Store:            store,
		Pipeline:         opts.Pipeline,
		Hooks:            opts.Hooks,
		Events:           app.EventService,
		Metrics:          app.Metrics,
		MetadataInferrer: opts.MetadataInferrer,
		Logger:           logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize job manager: %w", err)
	}
	app.Manager = mgr

	app.JobHandler = handlers.NewJobHandler(mgr, logger)
	app.FileHandler = handlers.NewFileHandler(mgr, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, wsProgressInterval, logger)

	if err := app.startScheduler(); err != nil {
		mgrCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		mgr.Shutdown(mgrCtx)
		cancel()
		store.Close()
		return nil, err
	}

	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Str("storage_root", cfg.Storage.Root).
		Int("max_workers", cfg.Jobs.MaxWorkers).
		Msg("Application initialized")
	return app, nil
}

// startScheduler installs the periodic maintenance job: settled jobs are
// evicted from the live map on the configured cron schedule.
func (a *App) startScheduler() error {
	schedule := a.Config.Jobs.MaintenanceSchedule
	if schedule == "" {
		a.Logger.Info().Msg("Maintenance schedule disabled")
		return nil
	}

	a.scheduler = cron.New()
	if _, err := a.scheduler.AddFunc(schedule, a.Manager.Maintenance); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	a.scheduler.Start()

	a.Logger.Info().Str("schedule", schedule).Msg("Maintenance scheduler started")
	return nil
}

// Close shuts the application down: scheduler first, then the manager
// (waiting for in-flight executions up to the context deadline), then the
// event bus and store.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		stopCtx := a.scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	var firstErr error
	if err := a.Manager.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := a.EventService.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.Logger.Info().Msg("Application stopped")
	return firstErr
}
