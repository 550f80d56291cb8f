package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/taskwell/taskwell/internal/config"
	"github.com/taskwell/taskwell/internal/engine"
	"github.com/taskwell/taskwell/internal/events"
	"github.com/taskwell/taskwell/internal/platform/postgres"
)

// application holds the assembled dependencies of the running server.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	backend *postgres.Backend
	engine  *engine.Engine
}

// newApplication wires the store backend, the lifecycle event emitter,
// and the task engine.
func newApplication(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*application, error) {
	backend := postgres.NewBackend(db)

	emitter := events.NewInMemoryEmitter(logger)
	emitter.RegisterHandler(events.HandlerFunc(
		func(ctx context.Context, event events.LifecycleEvent) error {
			logger.Debug("task lifecycle event",
				"task_id", event.TaskID,
				"task_type", event.TaskType,
				"status", event.Status,
				"attempt", event.Attempt)
			return nil
		}))

	eng, err := engine.New(
		engine.Deps{
			Tasks:      backend.Tasks,
			Queue:      backend.Queue,
			Processing: backend.Processing,
			Results:    backend.Results,
			Submitter:  backend,
			Events:     emitter,
		},
		engine.Config{
			MaxWorkers:         cfg.Queue.MaxWorkers,
			PollTimeout:        cfg.Queue.PollTimeout(),
			DefaultTaskTimeout: cfg.Queue.DefaultTimeout(),
			DefaultMaxRetries:  cfg.Queue.DefaultMaxRetries,
			BackoffCap:         cfg.Queue.BackoffCap(),
			ResultTTL:          cfg.Queue.ResultTTL(),
			ReaperInterval:     cfg.Queue.ReaperInterval(),
			ShutdownTimeout:    cfg.Queue.ShutdownTimeout(),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task engine: %w", err)
	}

	app := &application{
		config:  cfg,
		logger:  logger,
		db:      db,
		backend: backend,
		engine:  eng,
	}
	app.registerHandlers()

	return app, nil
}

// registerHandlers installs the built-in task handlers. Deployments embed
// this package and register their own handlers here before run is called.
func (app *application) registerHandlers() {
	// echo returns its payload unchanged. Useful for smoke tests and
	// for exercising the pipeline end to end.
	app.engine.RegisterHandler("echo", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return payload, nil
	})
}

// run starts the worker pool and serves HTTP until a shutdown signal
// arrives.
func (app *application) run() error {
	if err := app.engine.Start(0); err != nil {
		return fmt.Errorf("failed to start task engine: %w", err)
	}

	return app.startHTTPServer(context.Background(), app.setupRouter())
}

// cleanup releases application resources in reverse dependency order.
func (app *application) cleanup() {
	app.engine.Stop()
	closeDatabase(app.db, app.logger)
}
