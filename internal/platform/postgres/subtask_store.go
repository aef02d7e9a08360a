package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/platform/logger"
	"github.com/easelhq/easel-api/internal/store"
)

// PostgresSubTaskStore implements the store.SubTaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSubTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSubTaskStore creates a new PostgreSQL implementation of the
// SubTaskStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller. If logger is nil, a
// default logger will be used.
func NewPostgresSubTaskStore(db store.DBTX, logger *slog.Logger) *PostgresSubTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSubTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "subtask_store")),
	}
}

// Ensure PostgresSubTaskStore implements store.SubTaskStore interface
var _ store.SubTaskStore = (*PostgresSubTaskStore)(nil)

// subTaskColumns is the select list shared by every subtask read. Scan order
// must match scanSubTask.
const subTaskColumns = `id, task_id, variant_id, style_id, model_id, batch_index, prompt, negative_prompt,
	aspect_ratio, seed, status, retry_count, error_log, error_category, image_url, image_width,
	image_height, content_type, provider_seed, request_snapshot, response_snapshot,
	started_at, completed_at, created_at, updated_at`

// subTaskColumnCount is the number of columns written per row in CreateBatch.
const subTaskColumnCount = 25

// CreateBatch implements store.SubTaskStore.CreateBatch
// It saves the full fan-out of a task in a single multi-row INSERT, so a
// replayed expansion either plans every unit or none.
// Returns store.ErrDuplicateSubTask if any (task, variant, style, model,
// batch index) tuple already exists.
func (s *PostgresSubTaskStore) CreateBatch(ctx context.Context, subtasks []*domain.SubTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(subtasks) == 0 {
		return nil
	}

	for _, subtask := range subtasks {
		if err := subtask.Validate(); err != nil {
			log.Warn("subtask validation failed during batch create",
				slog.String("error", err.Error()),
				slog.String("subtask_id", subtask.ID.String()),
				slog.String("task_id", subtask.TaskID.String()))
			return err
		}
	}

	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(subtasks)*subTaskColumnCount)
	)
	for i, subtask := range subtasks {
		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("(")
		for j := 0; j < subTaskColumnCount; j++ {
			if j > 0 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*subTaskColumnCount+j+1)
		}
		placeholders.WriteString(")")

		args = append(args,
			subtask.ID,
			subtask.TaskID,
			subtask.VariantID,
			subtask.StyleID,
			subtask.ModelID,
			subtask.BatchIndex,
			subtask.Prompt,
			subtask.NegativePrompt,
			subtask.AspectRatio,
			subtask.Seed,
			subtask.Status,
			subtask.RetryCount,
			subtask.ErrorLog,
			subtask.ErrorCategory,
			subtask.ImageURL,
			subtask.ImageWidth,
			subtask.ImageHeight,
			subtask.ContentType,
			subtask.ProviderSeed,
			[]byte(subtask.RequestSnapshot),
			[]byte(subtask.ResponseSnapshot),
			subtask.StartedAt,
			subtask.CompletedAt,
			subtask.CreatedAt,
			subtask.UpdatedAt,
		)
	}

	query := `
		INSERT INTO subtasks (` + subTaskColumns + `)
		VALUES ` + placeholders.String()

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("duplicate subtask tuple during batch create",
				slog.String("error", err.Error()),
				slog.String("task_id", subtasks[0].TaskID.String()))
			return MapUniqueViolation(err, "", "", store.ErrDuplicateSubTask)
		}
		log.Error("failed to create subtask batch",
			slog.String("error", err.Error()),
			slog.String("task_id", subtasks[0].TaskID.String()),
			slog.Int("count", len(subtasks)))
		return MapError(err)
	}

	log.Info("subtask batch created successfully",
		slog.String("task_id", subtasks[0].TaskID.String()),
		slog.Int("count", len(subtasks)))
	return nil
}

// GetByID implements store.SubTaskStore.GetByID
// It retrieves a subtask by its unique ID.
// Returns store.ErrSubTaskNotFound if the subtask does not exist.
func (s *PostgresSubTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	log.Debug("retrieving subtask by ID", slog.String("subtask_id", id.String()))

	query := `SELECT ` + subTaskColumns + ` FROM subtasks WHERE id = $1`

	subtask, err := scanSubTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("subtask not found", slog.String("subtask_id", id.String()))
			return nil, store.ErrSubTaskNotFound
		}
		log.Error("failed to get subtask by ID",
			slog.String("error", err.Error()),
			slog.String("subtask_id", id.String()))
		return nil, err
	}

	return subtask, nil
}

// Update implements store.SubTaskStore.Update
// It saves changes to an existing subtask, including status, retry
// bookkeeping, error fields and generation results.
// Returns store.ErrSubTaskNotFound if the subtask does not exist.
// Returns validation errors if the subtask data is invalid.
func (s *PostgresSubTaskStore) Update(ctx context.Context, subtask *domain.SubTask) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := subtask.Validate(); err != nil {
		log.Warn("subtask validation failed during update",
			slog.String("error", err.Error()),
			slog.String("subtask_id", subtask.ID.String()))
		return err
	}

	query := `
		UPDATE subtasks
		SET status = $1, retry_count = $2, error_log = $3, error_category = $4,
		    image_url = $5, image_width = $6, image_height = $7, content_type = $8,
		    provider_seed = $9, request_snapshot = $10, response_snapshot = $11,
		    started_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $15
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		subtask.Status,
		subtask.RetryCount,
		subtask.ErrorLog,
		subtask.ErrorCategory,
		subtask.ImageURL,
		subtask.ImageWidth,
		subtask.ImageHeight,
		subtask.ContentType,
		subtask.ProviderSeed,
		[]byte(subtask.RequestSnapshot),
		[]byte(subtask.ResponseSnapshot),
		subtask.StartedAt,
		subtask.CompletedAt,
		subtask.UpdatedAt,
		subtask.ID,
	)

	if err != nil {
		log.Error("failed to update subtask",
			slog.String("error", err.Error()),
			slog.String("subtask_id", subtask.ID.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "subtask"); err != nil {
		log.Debug("subtask not found for update", slog.String("subtask_id", subtask.ID.String()))
		return store.ErrSubTaskNotFound
	}

	log.Debug("subtask updated successfully",
		slog.String("subtask_id", subtask.ID.String()),
		slog.String("status", string(subtask.Status)))
	return nil
}

// FindByTaskID implements store.SubTaskStore.FindByTaskID
// It retrieves all subtasks belonging to a task, in plan order.
// Returns an empty slice if the task has no subtasks.
func (s *PostgresSubTaskStore) FindByTaskID(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error) {
	query := `
		SELECT ` + subTaskColumns + `
		FROM subtasks
		WHERE task_id = $1
		ORDER BY variant_id, style_id, model_id, batch_index
	`
	return s.listSubTasks(ctx, query, taskID)
}

// FindByTaskIDAndStatus implements store.SubTaskStore.FindByTaskIDAndStatus
// It retrieves the task's subtasks with the specified status, in plan order.
// Returns an empty slice if no subtasks match the criteria.
func (s *PostgresSubTaskStore) FindByTaskIDAndStatus(
	ctx context.Context,
	taskID uuid.UUID,
	status domain.SubTaskStatus,
) ([]*domain.SubTask, error) {
	query := `
		SELECT ` + subTaskColumns + `
		FROM subtasks
		WHERE task_id = $1 AND status = $2
		ORDER BY variant_id, style_id, model_id, batch_index
	`
	return s.listSubTasks(ctx, query, taskID, status)
}

func (s *PostgresSubTaskStore) listSubTasks(ctx context.Context, query string, args ...any) ([]*domain.SubTask, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query subtasks", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	subtasks := []*domain.SubTask{}
	for rows.Next() {
		subtask, err := scanSubTask(rows)
		if err != nil {
			log.Error("failed to scan subtask row", slog.String("error", err.Error()))
			return nil, err
		}
		subtasks = append(subtasks, subtask)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning subtask rows", slog.String("error", err.Error()))
		return nil, err
	}

	return subtasks, nil
}

// CountByStatus implements store.SubTaskStore.CountByStatus
// It reports how many of the task's subtasks currently hold each status.
// The zero StatusCounts is returned for an unknown task.
func (s *PostgresSubTaskStore) CountByStatus(ctx context.Context, taskID uuid.UUID) (domain.StatusCounts, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT status, COUNT(*)
		FROM subtasks
		WHERE task_id = $1
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		log.Error("failed to count subtasks by status",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return domain.StatusCounts{}, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	var counts domain.StatusCounts
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			log.Error("failed to scan status count row",
				slog.String("error", err.Error()),
				slog.String("task_id", taskID.String()))
			return domain.StatusCounts{}, err
		}

		switch domain.SubTaskStatus(status) {
		case domain.SubTaskStatusPending:
			counts.Pending = count
		case domain.SubTaskStatusProcessing:
			counts.Processing = count
		case domain.SubTaskStatusSuccess:
			counts.Success = count
		case domain.SubTaskStatusFailed:
			counts.Failed = count
		case domain.SubTaskStatusCancelled:
			counts.Cancelled = count
		default:
			return domain.StatusCounts{}, fmt.Errorf("unknown subtask status %q for task %s", status, taskID)
		}
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning status count rows",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return domain.StatusCounts{}, err
	}

	return counts, nil
}

// CancelPending implements store.SubTaskStore.CancelPending
// It moves every pending subtask of the task to cancelled in one statement
// and reports how many rows changed. Processing subtasks are left alone; they
// finish and record their outcome normally.
func (s *PostgresSubTaskStore) CancelPending(ctx context.Context, taskID uuid.UUID) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE subtasks
		SET status = $1, updated_at = $2
		WHERE task_id = $3 AND status = $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.SubTaskStatusCancelled,
		time.Now().UTC(),
		taskID,
		domain.SubTaskStatusPending,
	)
	if err != nil {
		log.Error("failed to cancel pending subtasks",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return 0, MapError(err)
	}

	cancelled, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		return 0, err
	}

	log.Info("pending subtasks cancelled",
		slog.String("task_id", taskID.String()),
		slog.Int64("cancelled", cancelled))
	return cancelled, nil
}

// WithTx implements store.SubTaskStore.WithTx
// It returns a new SubTaskStore instance that uses the provided transaction.
// The transaction should be created and managed by the caller.
func (s *PostgresSubTaskStore) WithTx(tx *sql.Tx) store.SubTaskStore {
	return &PostgresSubTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanSubTask maps a subtask row onto a domain.SubTask, converting the
// nullable result and timing columns.
func scanSubTask(row rowScanner) (*domain.SubTask, error) {
	var (
		subtask          domain.SubTask
		status           string
		seed             sql.NullInt64
		providerSeed     sql.NullInt64
		requestSnapshot  []byte
		responseSnapshot []byte
		startedAt        sql.NullTime
		completedAt      sql.NullTime
	)

	err := row.Scan(
		&subtask.ID,
		&subtask.TaskID,
		&subtask.VariantID,
		&subtask.StyleID,
		&subtask.ModelID,
		&subtask.BatchIndex,
		&subtask.Prompt,
		&subtask.NegativePrompt,
		&subtask.AspectRatio,
		&seed,
		&status,
		&subtask.RetryCount,
		&subtask.ErrorLog,
		&subtask.ErrorCategory,
		&subtask.ImageURL,
		&subtask.ImageWidth,
		&subtask.ImageHeight,
		&subtask.ContentType,
		&providerSeed,
		&requestSnapshot,
		&responseSnapshot,
		&startedAt,
		&completedAt,
		&subtask.CreatedAt,
		&subtask.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	subtask.Status = domain.SubTaskStatus(status)
	subtask.Seed = nullableInt64(seed)
	subtask.ProviderSeed = nullableInt64(providerSeed)
	subtask.RequestSnapshot = requestSnapshot
	subtask.ResponseSnapshot = responseSnapshot
	subtask.StartedAt = nullableTime(startedAt)
	subtask.CompletedAt = nullableTime(completedAt)

	return &subtask, nil
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	value := v.Time
	return &value
}
