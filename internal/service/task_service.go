package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/events"
	"github.com/easelhq/easel-api/internal/job"
	"github.com/easelhq/easel-api/internal/store"
)

// List pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// TaskRepository defines the task persistence surface required by the
// service layer. It is aligned with store.TaskStore so adapters can delegate
// directly to a store implementation.
type TaskRepository interface {
	// Create saves a new task to the store
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByIDForUpdate retrieves a task and locks its row for the duration
	// of the surrounding transaction
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update saves changes to an existing task
	Update(ctx context.Context, task *domain.Task) error

	// UpdateStatus persists only the task's status, progress and error log
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TaskStatus, progress int, errorLog string) error

	// List retrieves tasks ordered newest first
	List(ctx context.Context, limit, offset int) ([]*domain.Task, error)

	// WithTx returns a new repository instance that uses the provided transaction
	WithTx(tx *sql.Tx) TaskRepository

	// DB returns the underlying database connection
	DB() *sql.DB
}

// SubTaskRepository defines the subtask persistence surface required by the
// service layer.
type SubTaskRepository interface {
	// GetByID retrieves a subtask by its unique ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SubTask, error)

	// Update saves changes to an existing subtask
	Update(ctx context.Context, subtask *domain.SubTask) error

	// FindByTaskID retrieves all subtasks belonging to a task
	FindByTaskID(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error)

	// FindByTaskIDAndStatus retrieves a task's subtasks in the given status
	FindByTaskIDAndStatus(ctx context.Context, taskID uuid.UUID, status domain.SubTaskStatus) ([]*domain.SubTask, error)

	// CountByStatus tallies a task's subtasks by status
	CountByStatus(ctx context.Context, taskID uuid.UUID) (domain.StatusCounts, error)

	// CancelPending cancels every pending subtask of a task, reporting how
	// many rows changed
	CancelPending(ctx context.Context, taskID uuid.UUID) (int64, error)

	// WithTx returns a new repository instance that uses the provided transaction
	WithTx(tx *sql.Tx) SubTaskRepository
}

// JobRepository defines the job persistence surface required by the service
// layer for enqueueing background work transactionally.
type JobRepository interface {
	// Create persists a new job
	Create(ctx context.Context, j *job.Job) error

	// CreateBatch persists multiple jobs in one operation
	CreateBatch(ctx context.Context, jobs []*job.Job) error

	// WithTx returns a new repository instance that uses the provided transaction
	WithTx(tx *sql.Tx) JobRepository
}

// ModelCatalog reports which model IDs have a registered provider adapter.
// Satisfied by provider.Registry.
type ModelCatalog interface {
	Has(modelID string) bool
}

// CreateTaskParams carries the user's inputs for a new draft task.
type CreateTaskParams struct {
	Subject  string
	StyleIDs []string
	ModelIDs []string
	Batch    domain.BatchConfig
}

// TaskDetail is a task together with the live distribution of its subtask
// statuses.
type TaskDetail struct {
	Task   *domain.Task
	Counts domain.StatusCounts
}

// TaskService provides the user-action surface for image generation tasks.
type TaskService interface {
	// CreateTask creates a new draft task from the given parameters.
	CreateTask(ctx context.Context, params CreateTaskParams) (*domain.Task, error)

	// GetTask retrieves a task together with its per-status subtask counts.
	GetTask(ctx context.Context, taskID uuid.UUID) (*TaskDetail, error)

	// ListTasks retrieves tasks ordered newest first. A non-positive limit
	// falls back to DefaultListLimit; limits above MaxListLimit are clamped.
	ListTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error)

	// GetSubTasks retrieves all subtasks belonging to a task.
	GetSubTasks(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error)

	// SubmitTask queues a draft task and emits the prompt expansion event
	// that starts its pipeline.
	SubmitTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// CancelTask cancels a queued, expanding or processing task and every
	// pending subtask under it. Units already running finish on their own
	// and the task stays cancelled regardless of their outcome.
	CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// RetryFailed resets every failed subtask of a failed or partially
	// failed task and re-enqueues their generation jobs.
	RetryFailed(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)

	// RetrySubTask resets a single failed subtask and re-enqueues its
	// generation job.
	RetrySubTask(ctx context.Context, subTaskID uuid.UUID) (*domain.SubTask, error)

	// RefreshTaskStatus re-derives a task's status and progress from its
	// subtask counts, holding the task row lock so concurrent completions
	// serialize. Cancelled tasks are never recomputed.
	RefreshTaskStatus(ctx context.Context, taskID uuid.UUID) error
}

// TaskServiceError wraps errors from the task service with context.
type TaskServiceError struct {
	// Operation is the operation that failed (e.g., "create_task", "cancel_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// passthroughErrors are returned to callers unwrapped so the API layer can
// map them with errors.Is. They carry enough meaning on their own; wrapping
// them in a TaskServiceError would only bury the sentinel.
var passthroughErrors = []error{
	ErrTaskNotFound,
	ErrSubTaskNotFound,
	ErrUnknownStyle,
	ErrUnknownModel,
	ErrNoStylesSelected,
	ErrNoModelsSelected,
	ErrTaskNotSubmittable,
	ErrTaskNotCancellable,
	ErrTaskNotRetryable,
	ErrNothingToRetry,
	ErrSubTaskNotRetryable,
	ErrTaskCancelled,
	domain.ErrValidation,
}

// NewTaskServiceError creates a new TaskServiceError.
// Sentinel rejections pass through unchanged, and store-level "not found"
// errors are mapped to their service-level equivalents.
func NewTaskServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range passthroughErrors {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	if errors.Is(err, store.ErrSubTaskNotFound) {
		return ErrSubTaskNotFound
	}

	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	taskRepo     TaskRepository
	subTaskRepo  SubTaskRepository
	jobRepo      JobRepository
	eventEmitter events.EventEmitter
	styles       map[string]domain.Style
	models       ModelCatalog
	notifier     job.Notifier
	logger       *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	taskRepo TaskRepository,
	subTaskRepo SubTaskRepository,
	jobRepo JobRepository,
	eventEmitter events.EventEmitter,
	styles map[string]domain.Style,
	models ModelCatalog,
	notifier job.Notifier,
	logger *slog.Logger,
) (TaskService, error) {
	if taskRepo == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "taskRepo cannot be nil",
		}
	}
	if subTaskRepo == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "subTaskRepo cannot be nil",
		}
	}
	if jobRepo == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "jobRepo cannot be nil",
		}
	}
	if eventEmitter == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "eventEmitter cannot be nil",
		}
	}
	if len(styles) == 0 {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "styles cannot be empty",
		}
	}
	if models == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "models cannot be nil",
		}
	}
	if notifier == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "notifier cannot be nil",
		}
	}

	// Use provided logger or create default
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		taskRepo:     taskRepo,
		subTaskRepo:  subTaskRepo,
		jobRepo:      jobRepo,
		eventEmitter: eventEmitter,
		styles:       styles,
		models:       models,
		notifier:     notifier,
		logger:       logger.With("component", "task_service"),
	}, nil
}

// CreateTask creates a new draft task from the given parameters.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	params CreateTaskParams,
) (*domain.Task, error) {
	task, err := domain.NewTask(params.Subject, params.StyleIDs, params.ModelIDs, params.Batch)
	if err != nil {
		s.logger.Debug("rejected invalid task parameters",
			"error", err,
			"subject", params.Subject)
		return nil, NewTaskServiceError(
			"create_task",
			"invalid task parameters",
			fmt.Errorf("%w: %w", domain.ErrValidation, err),
		)
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		s.logger.Error("failed to save task",
			"error", err,
			"task_id", task.ID)
		return nil, NewTaskServiceError("create_task", "failed to save task", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"style_count", len(task.StyleIDs),
		"model_count", len(task.ModelIDs),
		"total_expected", task.TotalExpected())

	return task, nil
}

// GetTask retrieves a task together with its per-status subtask counts.
func (s *taskServiceImpl) GetTask(ctx context.Context, taskID uuid.UUID) (*TaskDetail, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Debug("failed to retrieve task",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}

	counts, err := s.subTaskRepo.CountByStatus(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to count subtask statuses",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("get_task", "failed to count subtask statuses", err)
	}

	return &TaskDetail{Task: task, Counts: counts}, nil
}

// ListTasks retrieves tasks ordered newest first.
func (s *taskServiceImpl) ListTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := s.taskRepo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list tasks",
			"error", err,
			"limit", limit,
			"offset", offset)
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}

	return tasks, nil
}

// GetSubTasks retrieves all subtasks belonging to a task.
func (s *taskServiceImpl) GetSubTasks(ctx context.Context, taskID uuid.UUID) ([]*domain.SubTask, error) {
	if _, err := s.taskRepo.GetByID(ctx, taskID); err != nil {
		s.logger.Debug("failed to retrieve task for subtask listing",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("get_subtasks", "failed to retrieve task", err)
	}

	subtasks, err := s.subTaskRepo.FindByTaskID(ctx, taskID)
	if err != nil {
		s.logger.Error("failed to retrieve subtasks",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("get_subtasks", "failed to retrieve subtasks", err)
	}

	return subtasks, nil
}

// SubmitTask queues a draft task and emits the prompt expansion event that
// starts its pipeline. Selections are validated against the style catalog
// and the model registry before anything is enqueued, so a bad draft is
// rejected while it can still be corrected.
func (s *taskServiceImpl) SubmitTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		s.logger.Debug("failed to retrieve task for submit",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("submit_task", "failed to retrieve task", err)
	}

	if err := s.validateSelections(task); err != nil {
		s.logger.Debug("task submission rejected",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("submit_task", "invalid selections", err)
	}

	if err := task.UpdateStatus(domain.TaskStatusQueued); err != nil {
		s.logger.Debug("task submission rejected",
			"task_id", taskID,
			"status", task.Status)
		return nil, fmt.Errorf("%w: task is %s", ErrTaskNotSubmittable, task.Status)
	}

	if err := s.taskRepo.Update(ctx, task); err != nil {
		s.logger.Error("failed to save queued task",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("submit_task", "failed to save queued task", err)
	}

	event, err := events.NewJobRequestEvent(job.JobTypePromptExpansion, job.PromptExpansionPayload{
		TaskID:       task.ID,
		Subject:      task.Subject,
		VariantCount: task.Batch.VariantCount,
		WebSearch:    task.Batch.WebSearch,
	})
	if err != nil {
		s.logger.Error("failed to create expansion event",
			"error", err,
			"task_id", taskID)
		return nil, NewTaskServiceError("submit_task", "failed to create expansion event", err)
	}

	if err := s.eventEmitter.EmitEvent(ctx, event); err != nil {
		s.logger.Error("failed to emit expansion event",
			"error", err,
			"task_id", taskID,
			"event_id", event.ID)
		return nil, NewTaskServiceError("submit_task", "failed to emit expansion event", err)
	}

	s.logger.Info("task submitted for expansion",
		"task_id", taskID,
		"event_id", event.ID,
		"total_expected", task.TotalExpected())

	return task, nil
}

// validateSelections checks the task's style and model selections against
// the catalogs.
func (s *taskServiceImpl) validateSelections(task *domain.Task) error {
	if len(task.StyleIDs) == 0 {
		return ErrNoStylesSelected
	}
	if len(task.ModelIDs) == 0 {
		return ErrNoModelsSelected
	}
	for _, styleID := range task.EffectiveStyleIDs() {
		if _, ok := s.styles[styleID]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownStyle, styleID)
		}
	}
	for _, modelID := range task.ModelIDs {
		if !s.models.Has(modelID) {
			return fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
		}
	}
	return nil
}

// CancelTask cancels a queued, expanding or processing task. Pending
// subtasks are cancelled in the same transaction; units already running
// finish on their own and record their outcome without reviving the task.
func (s *taskServiceImpl) CancelTask(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	var cancelled *domain.Task

	err := store.RunInTransaction(ctx, s.taskRepo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.taskRepo.WithTx(tx)
		txSubTasks := s.subTaskRepo.WithTx(tx)

		task, err := txTasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			s.logger.Debug("failed to retrieve task for cancel",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("cancel_task", "failed to retrieve task", err)
		}

		from := task.Status
		if err := task.UpdateStatus(domain.TaskStatusCancelled); err != nil {
			s.logger.Debug("task cancel rejected",
				"task_id", taskID,
				"status", from)
			return fmt.Errorf("%w: task is %s", ErrTaskNotCancellable, from)
		}

		n, err := txSubTasks.CancelPending(ctx, taskID)
		if err != nil {
			s.logger.Error("failed to cancel pending subtasks",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("cancel_task", "failed to cancel pending subtasks", err)
		}

		if err := txTasks.Update(ctx, task); err != nil {
			s.logger.Error("failed to save cancelled task",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("cancel_task", "failed to save cancelled task", err)
		}

		s.logger.Info("task cancelled",
			"task_id", taskID,
			"previous_status", from,
			"cancelled_subtasks", n)

		cancelled = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cancelled, nil
}

// RetryFailed resets every failed subtask of a failed or partially failed
// task, re-enqueues their generation jobs in the same transaction and
// returns the task to processing.
func (s *taskServiceImpl) RetryFailed(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	var retried *domain.Task

	err := store.RunInTransaction(ctx, s.taskRepo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.taskRepo.WithTx(tx)
		txSubTasks := s.subTaskRepo.WithTx(tx)
		txJobs := s.jobRepo.WithTx(tx)

		task, err := txTasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			s.logger.Debug("failed to retrieve task for retry",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("retry_task", "failed to retrieve task", err)
		}

		if task.Status != domain.TaskStatusFailed && task.Status != domain.TaskStatusPartialFailed {
			s.logger.Debug("task retry rejected",
				"task_id", taskID,
				"status", task.Status)
			return fmt.Errorf("%w: task is %s", ErrTaskNotRetryable, task.Status)
		}

		failed, err := txSubTasks.FindByTaskIDAndStatus(ctx, taskID, domain.SubTaskStatusFailed)
		if err != nil {
			s.logger.Error("failed to load failed subtasks",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("retry_task", "failed to load failed subtasks", err)
		}
		if len(failed) == 0 {
			return ErrNothingToRetry
		}

		genJobs := make([]*job.Job, 0, len(failed))
		for _, st := range failed {
			if err := st.ResetForRetry(); err != nil {
				return NewTaskServiceError("retry_task", "failed to reset subtask", err)
			}
			if err := txSubTasks.Update(ctx, st); err != nil {
				s.logger.Error("failed to save reset subtask",
					"error", err,
					"task_id", taskID,
					"subtask_id", st.ID)
				return NewTaskServiceError("retry_task", "failed to save reset subtask", err)
			}
			j, err := job.NewGenerateImageJob(st, nil, time.Time{})
			if err != nil {
				return NewTaskServiceError("retry_task", "failed to build generation job", err)
			}
			genJobs = append(genJobs, j)
		}

		if err := txJobs.CreateBatch(ctx, genJobs); err != nil {
			s.logger.Error("failed to enqueue generation jobs",
				"error", err,
				"task_id", taskID,
				"job_count", len(genJobs))
			return NewTaskServiceError("retry_task", "failed to enqueue generation jobs", err)
		}

		if err := task.UpdateStatus(domain.TaskStatusProcessing); err != nil {
			return NewTaskServiceError("retry_task", "failed to transition task to processing", err)
		}

		counts, err := txSubTasks.CountByStatus(ctx, taskID)
		if err != nil {
			return NewTaskServiceError("retry_task", "failed to count subtask statuses", err)
		}
		_, progress := domain.AggregateStatus(counts, task.TotalExpected())
		task.Progress = progress
		task.ErrorLog = ""

		if err := txTasks.Update(ctx, task); err != nil {
			s.logger.Error("failed to save retried task",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("retry_task", "failed to save retried task", err)
		}

		s.logger.Info("task retry enqueued",
			"task_id", taskID,
			"retried_subtasks", len(failed))

		retried = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Poke()
	return retried, nil
}

// RetrySubTask resets a single failed subtask, re-enqueues its generation
// job and returns the parent task to processing.
func (s *taskServiceImpl) RetrySubTask(ctx context.Context, subTaskID uuid.UUID) (*domain.SubTask, error) {
	var retried *domain.SubTask

	err := store.RunInTransaction(ctx, s.taskRepo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.taskRepo.WithTx(tx)
		txSubTasks := s.subTaskRepo.WithTx(tx)
		txJobs := s.jobRepo.WithTx(tx)

		st, err := txSubTasks.GetByID(ctx, subTaskID)
		if err != nil {
			s.logger.Debug("failed to retrieve subtask for retry",
				"error", err,
				"subtask_id", subTaskID)
			return NewTaskServiceError("retry_subtask", "failed to retrieve subtask", err)
		}

		// Lock the parent before touching the unit so retries serialize
		// with cancel and status refresh.
		task, err := txTasks.GetByIDForUpdate(ctx, st.TaskID)
		if err != nil {
			s.logger.Error("failed to retrieve parent task for retry",
				"error", err,
				"task_id", st.TaskID,
				"subtask_id", subTaskID)
			return NewTaskServiceError("retry_subtask", "failed to retrieve parent task", err)
		}

		if task.Status == domain.TaskStatusCancelled {
			return fmt.Errorf("%w: task %s", ErrTaskCancelled, task.ID)
		}
		if st.Status != domain.SubTaskStatusFailed {
			return fmt.Errorf("%w: subtask is %s", ErrSubTaskNotRetryable, st.Status)
		}

		if err := st.ResetForRetry(); err != nil {
			return NewTaskServiceError("retry_subtask", "failed to reset subtask", err)
		}
		if err := txSubTasks.Update(ctx, st); err != nil {
			s.logger.Error("failed to save reset subtask",
				"error", err,
				"subtask_id", subTaskID)
			return NewTaskServiceError("retry_subtask", "failed to save reset subtask", err)
		}

		j, err := job.NewGenerateImageJob(st, nil, time.Time{})
		if err != nil {
			return NewTaskServiceError("retry_subtask", "failed to build generation job", err)
		}
		if err := txJobs.Create(ctx, j); err != nil {
			s.logger.Error("failed to enqueue generation job",
				"error", err,
				"subtask_id", subTaskID)
			return NewTaskServiceError("retry_subtask", "failed to enqueue generation job", err)
		}

		if task.Status != domain.TaskStatusProcessing {
			if err := task.UpdateStatus(domain.TaskStatusProcessing); err != nil {
				return NewTaskServiceError("retry_subtask", "failed to transition task to processing", err)
			}
		}

		counts, err := txSubTasks.CountByStatus(ctx, st.TaskID)
		if err != nil {
			return NewTaskServiceError("retry_subtask", "failed to count subtask statuses", err)
		}
		_, progress := domain.AggregateStatus(counts, task.TotalExpected())
		task.Progress = progress

		if err := txTasks.Update(ctx, task); err != nil {
			s.logger.Error("failed to save parent task",
				"error", err,
				"task_id", st.TaskID)
			return NewTaskServiceError("retry_subtask", "failed to save parent task", err)
		}

		s.logger.Info("subtask retry enqueued",
			"task_id", st.TaskID,
			"subtask_id", subTaskID)

		retried = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Poke()
	return retried, nil
}

// RefreshTaskStatus re-derives a task's status and progress from the live
// distribution of its subtask statuses. The whole read-aggregate-write runs
// inside one transaction with the task row locked, so two units finishing at
// once cannot lose each other's update.
func (s *taskServiceImpl) RefreshTaskStatus(ctx context.Context, taskID uuid.UUID) error {
	return store.RunInTransaction(ctx, s.taskRepo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txTasks := s.taskRepo.WithTx(tx)
		txSubTasks := s.subTaskRepo.WithTx(tx)

		task, err := txTasks.GetByIDForUpdate(ctx, taskID)
		if err != nil {
			s.logger.Error("failed to retrieve task for status refresh",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("refresh_task_status", "failed to retrieve task", err)
		}

		// Cancellation wins over any concurrent completion; a cancelled
		// task's status is never recomputed.
		if task.Status == domain.TaskStatusCancelled {
			s.logger.Debug("skipping status refresh for cancelled task",
				"task_id", taskID)
			return nil
		}

		counts, err := txSubTasks.CountByStatus(ctx, taskID)
		if err != nil {
			s.logger.Error("failed to count subtask statuses",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("refresh_task_status", "failed to count subtask statuses", err)
		}

		status, progress := domain.AggregateStatus(counts, task.TotalExpected())
		if status == task.Status && progress == task.Progress {
			return nil
		}

		if status != task.Status {
			if err := task.UpdateStatus(status); err != nil {
				s.logger.Error("aggregate produced an illegal status transition",
					"error", err,
					"task_id", taskID,
					"from", task.Status,
					"to", status)
				return NewTaskServiceError("refresh_task_status", "illegal aggregate transition", err)
			}
		}

		if err := txTasks.UpdateStatus(ctx, taskID, status, progress, task.ErrorLog); err != nil {
			s.logger.Error("failed to save refreshed task status",
				"error", err,
				"task_id", taskID)
			return NewTaskServiceError("refresh_task_status", "failed to save task status", err)
		}

		s.logger.Info("task status refreshed",
			"task_id", taskID,
			"status", status,
			"progress", progress,
			"pending", counts.Pending,
			"processing", counts.Processing,
			"success", counts.Success,
			"failed", counts.Failed,
			"cancelled", counts.Cancelled)

		return nil
	})
}

// Ensure taskServiceImpl satisfies the generation pipeline's refresher
// contract.
var _ job.StatusRefresher = (TaskService)(nil)
