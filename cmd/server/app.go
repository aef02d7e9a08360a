package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/events"
	"github.com/easelhq/easel-api/internal/fanout"
	"github.com/easelhq/easel-api/internal/generation"
	"github.com/easelhq/easel-api/internal/job"
	"github.com/easelhq/easel-api/internal/platform/dashscope"
	"github.com/easelhq/easel-api/internal/platform/gemini"
	"github.com/easelhq/easel-api/internal/platform/geminiimage"
	"github.com/easelhq/easel-api/internal/platform/modelscope"
	"github.com/easelhq/easel-api/internal/platform/objectstore"
	"github.com/easelhq/easel-api/internal/platform/postgres"
	"github.com/easelhq/easel-api/internal/provider"
	"github.com/easelhq/easel-api/internal/ratelimit"
	"github.com/easelhq/easel-api/internal/service"
	"github.com/easelhq/easel-api/internal/store"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore    store.TaskStore
	subTaskStore store.SubTaskStore
	jobStore     job.JobStore

	// Provider surface
	registry *provider.Registry
	limiter  *ratelimit.Limiter

	// Generation collaborators
	expander  generation.PromptExpander
	planner   *fanout.Planner
	artifacts job.ArtifactStore

	// Service interfaces
	taskService service.TaskService

	// Event system
	eventEmitter events.EventEmitter

	// Background job pipeline
	scheduler *job.Scheduler
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization. The job scheduler is constructed but not started; Run
// starts it alongside the HTTP server.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize stores
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.subTaskStore = postgres.NewPostgresSubTaskStore(db, logger)
	app.jobStore = postgres.NewPostgresJobStore(db, logger)

	// Build one adapter per enabled provider and register it under its
	// model ID.
	var err error
	app.registry, err = setupProviderRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider registry: %w", err)
	}

	// Initialize the per-provider rate limiter
	app.limiter = ratelimit.NewLimiter(buildRateLimits(cfg))

	// Create the LLM prompt expander
	app.expander, err = gemini.NewGeminiExpander(
		ctx,
		logger.With("component", "prompt_expander"),
		cfg.Gemini,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt expander: %w", err)
	}
	logger.Info("Prompt expander initialized", "model", cfg.Gemini.ModelName)

	// Initialize the fan-out planner and style catalog
	app.planner = fanout.NewPlanner()
	styles := domain.DefaultStyleCatalog()

	// Initialize the artifact store
	app.artifacts, err = setupArtifactStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	// Initialize the job scheduler
	app.scheduler = job.NewScheduler(app.jobStore, job.SchedulerConfig{
		WorkerCount:  cfg.Scheduler.WorkerCount,
		QueueSize:    cfg.Scheduler.QueueSize,
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalMS) * time.Millisecond,
		StuckJobAge:  time.Duration(cfg.Scheduler.StuckAfterMinutes) * time.Minute,
	}, logger)

	// Initialize event emitter
	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	// Create required adapters
	taskRepoAdapter := service.NewTaskRepositoryAdapter(app.taskStore, app.db)
	subTaskRepoAdapter := service.NewSubTaskRepositoryAdapter(app.subTaskStore)
	jobRepoAdapter := service.NewJobRepositoryAdapter(app.jobStore)

	// Initialize task service
	app.taskService, err = service.NewTaskService(
		taskRepoAdapter,
		subTaskRepoAdapter,
		jobRepoAdapter,
		app.eventEmitter,
		styles,
		app.registry,
		app.scheduler,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	// Create job handlers and register them with the scheduler
	expansionHandler, err := job.NewExpansionHandler(
		app.db,
		app.taskStore,
		app.subTaskStore,
		app.jobStore,
		app.expander,
		app.planner,
		styles,
		app.scheduler,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion handler: %w", err)
	}

	generateHandler, err := job.NewGenerateHandler(
		app.subTaskStore,
		app.jobStore,
		app.registry,
		app.limiter,
		app.artifacts,
		app.taskService,
		app.scheduler,
		job.GenerateHandlerConfig{},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create generate handler: %w", err)
	}

	app.scheduler.Register(job.JobTypePromptExpansion, expansionHandler)
	app.scheduler.Register(job.JobTypeGenerateImage, generateHandler)

	// Register the event handler that turns job request events into
	// persisted jobs.
	jobEventHandler := job.NewJobEventHandler(
		app.scheduler,
		logger.With("component", "job_event_handler"),
	)
	if emitter, ok := app.eventEmitter.(*events.InMemoryEventEmitter); ok {
		emitter.RegisterHandler(jobEventHandler)
	} else {
		return nil, fmt.Errorf("unexpected event emitter type, cannot register job handler")
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the job scheduler and the application server, handling
// lifecycle and cleanup. It returns an error if the server fails to start
// or encounters problems.
func (app *application) Run(ctx context.Context) error {
	// Start the background job pipeline. All handlers are registered by
	// newApplication before this point.
	if err := app.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start job scheduler: %w", err)
	}

	// Set up router using the application dependencies
	router := app.setupRouter()

	// Start the HTTP server
	err := app.startHTTPServer(ctx, router)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// Stop the job scheduler, waiting for in-flight jobs to finish
	if app.scheduler != nil {
		app.scheduler.Stop()
	}

	// Close database connection
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

// setupProviderRegistry builds one adapter per enabled provider and
// registers it under its configured model ID. Enabled providers without an
// API key are skipped so a deployment can run a subset of providers; at
// least one adapter must register.
func setupProviderRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	for name, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			logger.Info("Provider disabled, skipping", "provider", name)
			continue
		}
		if strings.TrimSpace(pcfg.APIKey) == "" {
			logger.Warn("Provider enabled but no API key configured, skipping",
				"provider", name)
			continue
		}

		var (
			adapter provider.Adapter
			err     error
		)
		switch name {
		case "gemini":
			adapter, err = geminiimage.NewGeminiImageAdapter(pcfg, nil, logger)
		case "dashscope":
			adapter, err = dashscope.NewDashScopeAdapter(pcfg, nil, logger)
		case "modelscope":
			adapter, err = modelscope.NewModelScopeAdapter(pcfg, nil, logger)
		default:
			logger.Warn("Unknown provider in configuration, skipping", "provider", name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s adapter: %w", name, err)
		}

		registry.Register(pcfg.Model, adapter)
		logger.Info("Provider adapter registered",
			"provider", name,
			"model", pcfg.Model)
	}

	if len(registry.ModelIDs()) == 0 {
		return nil, fmt.Errorf("no usable providers: every provider is disabled or missing an API key")
	}

	return registry, nil
}

// buildRateLimits starts from the limiter's built-in defaults and applies
// any per-provider overrides from the configuration.
func buildRateLimits(cfg *config.Config) map[string]ratelimit.Limit {
	limits := ratelimit.DefaultLimits()

	for name, pcfg := range cfg.Providers {
		limit := limits[name]
		if pcfg.RateLimit.MaxRequests > 0 {
			limit.MaxRequests = pcfg.RateLimit.MaxRequests
		}
		if pcfg.RateLimit.WindowMS > 0 {
			limit.Window = time.Duration(pcfg.RateLimit.WindowMS) * time.Millisecond
		}
		if pcfg.RateLimit.MinDelayMS > 0 {
			limit.MinDelay = time.Duration(pcfg.RateLimit.MinDelayMS) * time.Millisecond
		}
		limits[name] = limit
	}

	return limits
}

// setupArtifactStore returns the object-storage client when storage is
// enabled, or a passthrough that keeps provider-hosted URLs as-is.
func setupArtifactStore(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (job.ArtifactStore, error) {
	if !cfg.Storage.Enabled {
		logger.Info("Object storage disabled, generated images keep provider URLs")
		return objectstore.NewPassthrough(), nil
	}

	objStore, err := objectstore.New(cfg.Storage, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	if err := objStore.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact bucket: %w", err)
	}

	logger.Info("Object storage initialized",
		"endpoint", cfg.Storage.Endpoint,
		"bucket", cfg.Storage.Bucket)
	return objStore, nil
}
