package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
)

// SubTaskStore defines the interface for subtask data persistence.
type SubTaskStore interface {
	// CreateBatch saves a set of subtasks in one operation. The fan-out
	// planner produces the full set for a task at once, so batch insertion
	// is the only creation path.
	// Returns ErrDuplicateSubTask if any (task, variant, style, model,
	// batch index) tuple already exists.
	CreateBatch(ctx context.Context, subtasks []*domain.SubTask) error

	// GetByID retrieves a subtask by its unique ID.
	// Returns ErrSubTaskNotFound if the subtask does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SubTask, error)

	// Update saves changes to an existing subtask, including status, retry
	// bookkeeping, error fields and generation results.
	// Returns ErrSubTaskNotFound if the subtask does not exist.
	// Returns validation errors if the subtask data is invalid.
	Update(ctx context.Context, subtask *domain.SubTask) error

	// FindByTaskID retrieves all subtasks belonging to a task, in plan order
	// (variant, style, model, batch index).
	// Returns an empty slice if the task has no subtasks.
	FindByTaskID(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error)

	// FindByTaskIDAndStatus retrieves the task's subtasks with the specified
	// status, in plan order.
	// Returns an empty slice if no subtasks match the criteria.
	FindByTaskIDAndStatus(ctx context.Context, taskID uuid.UUID, status domain.SubTaskStatus) ([]*domain.SubTask, error)

	// CountByStatus reports how many of the task's subtasks currently hold
	// each status. The zero StatusCounts is returned for an unknown task.
	CountByStatus(ctx context.Context, taskID uuid.UUID) (domain.StatusCounts, error)

	// CancelPending moves every pending subtask of the task to cancelled in
	// one operation and reports how many rows changed. Processing subtasks
	// are left alone; they finish and record their outcome normally.
	CancelPending(ctx context.Context, taskID uuid.UUID) (int64, error)

	// WithTx returns a new SubTaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) SubTaskStore
}
