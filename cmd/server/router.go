package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/easelhq/easel-api/internal/api"
	apiMiddleware "github.com/easelhq/easel-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. It accepts the application dependencies to create handlers
// and register routes. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	// Create a router
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware) // Add trace IDs for improved error handling

	// Create API handlers using the application's services
	taskHandler := api.NewTaskHandler(app.taskService, app.logger)
	healthHandler := api.NewHealthHandler(app.db, app.logger)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)
			r.Get("/{id}", taskHandler.GetTask)
			r.Get("/{id}/subtasks", taskHandler.GetSubTasks)
			r.Post("/{id}/submit", taskHandler.SubmitTask)
			r.Post("/{id}/cancel", taskHandler.CancelTask)
			r.Post("/{id}/retry", taskHandler.RetryTask)
		})

		r.Post("/subtasks/{id}/retry", taskHandler.RetrySubTask)
	})

	// Health check endpoint
	r.Get("/healthz", healthHandler.Check)

	return r
}
