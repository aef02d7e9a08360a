package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
)

// TaskStore defines the interface for task data persistence.
// Version: 1.0
type TaskStore interface {
	// Create saves a new task to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByIDForUpdate retrieves a task by ID while holding a row lock, so
	// concurrent status refreshes serialize on the task. Only meaningful
	// inside a transaction; outside one it behaves like GetByID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update saves changes to an existing task, including variants, batch
	// configuration, status and progress.
	// Returns ErrTaskNotFound if the task does not exist.
	// Returns validation errors if the task data is invalid.
	Update(ctx context.Context, task *domain.Task) error

	// UpdateStatus updates the status, progress and error log of an existing
	// task without touching the rest of the row.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, progress int, errorLog string) error

	// List retrieves tasks ordered by creation time, newest first.
	// Returns an empty slice if the store holds no tasks.
	// Can limit the number of results and paginate through offset.
	List(ctx context.Context, limit, offset int) ([]*domain.Task, error)

	// FindTasksByStatus retrieves all tasks with the specified status,
	// ordered by creation time, newest first.
	// Returns an empty slice if no tasks match the criteria.
	// Can limit the number of results and paginate through offset.
	FindTasksByStatus(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]*domain.Task, error)

	// Delete removes a task and, through cascading, its subtasks.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
