package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/platform/logger"
	"github.com/easelhq/easel-api/internal/store"
)

// defaultListLimit bounds unpaginated list queries when the caller passes no
// limit. The service layer clamps user input before it gets here; this guard
// covers direct callers.
const defaultListLimit = 20

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the
// TaskStore interface. It accepts a database connection or transaction that
// should be initialized and managed by the caller. If logger is nil, a
// default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// taskColumns is the select list shared by every task read. Scan order must
// match scanTask.
const taskColumns = `id, subject, variants, style_ids, model_ids, batch, status, progress, error_log, created_at, updated_at`

// Create implements store.TaskStore.Create
// It saves a new task to the database, handling domain validation.
// Returns validation errors from the domain Task if data is invalid.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	variants, styleIDs, modelIDs, batch, err := marshalTaskFields(task)
	if err != nil {
		log.Error("failed to encode task fields",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (id, subject, variants, style_ids, model_ids, batch, status, progress, error_log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Subject,
		variants,
		styleIDs,
		modelIDs,
		batch,
		task.Status,
		task.Progress,
		task.ErrorLog,
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task created successfully",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// It retrieves a task by its unique ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.getByID(ctx, id, false)
}

// GetByIDForUpdate implements store.TaskStore.GetByIDForUpdate
// It retrieves a task by ID while holding a row lock, so concurrent status
// refreshes, cancels and retries serialize on the task row. Only meaningful
// inside a transaction.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.getByID(ctx, id, true)
}

func (s *PostgresTaskStore) getByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("retrieving task by ID",
		slog.String("task_id", id.String()),
		slog.Bool("for_update", forUpdate))

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	return task, nil
}

// Update implements store.TaskStore.Update
// It saves changes to an existing task, including variants, batch
// configuration, status and progress.
// Returns store.ErrTaskNotFound if the task does not exist.
// Returns validation errors if the task data is invalid.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	variants, styleIDs, modelIDs, batch, err := marshalTaskFields(task)
	if err != nil {
		log.Error("failed to encode task fields",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		UPDATE tasks
		SET subject = $1, variants = $2, style_ids = $3, model_ids = $4, batch = $5,
		    status = $6, progress = $7, error_log = $8, updated_at = $9
		WHERE id = $10
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		task.Subject,
		variants,
		styleIDs,
		modelIDs,
		batch,
		task.Status,
		task.Progress,
		task.ErrorLog,
		task.UpdatedAt,
		task.ID,
	)

	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		log.Debug("task not found for update", slog.String("task_id", task.ID.String()))
		return store.ErrTaskNotFound
	}

	log.Info("task updated successfully",
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// UpdateStatus implements store.TaskStore.UpdateStatus
// It updates the status, progress and error log of an existing task without
// touching the rest of the row.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	progress int,
	errorLog string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("updating task status",
		slog.String("task_id", id.String()),
		slog.String("status", string(status)),
		slog.Int("progress", progress))

	query := `
		UPDATE tasks
		SET status = $1, progress = $2, error_log = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query, status, progress, errorLog, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to update task status",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(status)))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		log.Debug("task not found for status update", slog.String("task_id", id.String()))
		return store.ErrTaskNotFound
	}

	log.Info("task status updated successfully",
		slog.String("task_id", id.String()),
		slog.String("status", string(status)),
		slog.Int("progress", progress))
	return nil
}

// List implements store.TaskStore.List
// It retrieves tasks ordered by creation time, newest first.
// Returns an empty slice if the store holds no tasks.
func (s *PostgresTaskStore) List(ctx context.Context, limit, offset int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return s.listTasks(ctx, query, normalizeLimit(limit), normalizeOffset(offset))
}

// FindTasksByStatus implements store.TaskStore.FindTasksByStatus
// It retrieves all tasks with the specified status, ordered by creation time,
// newest first.
// Returns an empty slice if no tasks match the criteria.
func (s *PostgresTaskStore) FindTasksByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	limit, offset int,
) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return s.listTasks(ctx, query, status, normalizeLimit(limit), normalizeOffset(offset))
}

func (s *PostgresTaskStore) listTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", slog.String("error", err.Error()))
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning task rows", slog.String("error", err.Error()))
		return nil, err
	}

	log.Debug("listed tasks", slog.Int("count", len(tasks)))
	return tasks, nil
}

// Delete implements store.TaskStore.Delete
// It removes a task and, through the ON DELETE CASCADE on subtasks, its
// entire fan-out.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `DELETE FROM tasks WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		log.Debug("task not found for delete", slog.String("task_id", id.String()))
		return store.ErrTaskNotFound
	}

	log.Info("task deleted successfully", slog.String("task_id", id.String()))
	return nil
}

// WithTx implements store.TaskStore.WithTx
// It returns a new TaskStore instance that uses the provided transaction.
// The transaction should be created and managed by the caller.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows so read paths share one mapper.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask maps a task row onto a domain.Task, decoding the JSONB columns.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task     domain.Task
		status   string
		variants []byte
		styleIDs []byte
		modelIDs []byte
		batch    []byte
	)

	err := row.Scan(
		&task.ID,
		&task.Subject,
		&variants,
		&styleIDs,
		&modelIDs,
		&batch,
		&status,
		&task.Progress,
		&task.ErrorLog,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)

	if len(variants) > 0 {
		if err := json.Unmarshal(variants, &task.Variants); err != nil {
			return nil, fmt.Errorf("failed to decode task variants: %w", err)
		}
	}
	if err := json.Unmarshal(styleIDs, &task.StyleIDs); err != nil {
		return nil, fmt.Errorf("failed to decode task style IDs: %w", err)
	}
	if err := json.Unmarshal(modelIDs, &task.ModelIDs); err != nil {
		return nil, fmt.Errorf("failed to decode task model IDs: %w", err)
	}
	if err := json.Unmarshal(batch, &task.Batch); err != nil {
		return nil, fmt.Errorf("failed to decode task batch config: %w", err)
	}

	return &task, nil
}

// marshalTaskFields encodes the task's slice and struct fields for their
// JSONB columns.
func marshalTaskFields(task *domain.Task) (variants, styleIDs, modelIDs, batch []byte, err error) {
	variants, err = json.Marshal(task.Variants)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task variants: %w", err)
	}
	styleIDs, err = json.Marshal(task.StyleIDs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task style IDs: %w", err)
	}
	modelIDs, err = json.Marshal(task.ModelIDs)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task model IDs: %w", err)
	}
	batch, err = json.Marshal(task.Batch)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode task batch config: %w", err)
	}
	return variants, styleIDs, modelIDs, batch, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
