package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/fanout"
	"github.com/easelhq/easel-api/internal/generation"
	"github.com/easelhq/easel-api/internal/store"
)

// Common errors
var (
	ErrNilDB           = errors.New("database handle cannot be nil")
	ErrNilTaskStore    = errors.New("task store cannot be nil")
	ErrNilSubTaskStore = errors.New("subtask store cannot be nil")
	ErrNilJobStore     = errors.New("job store cannot be nil")
	ErrNilExpander     = errors.New("prompt expander cannot be nil")
	ErrNilPlanner      = errors.New("planner cannot be nil")
	ErrNilNotifier     = errors.New("notifier cannot be nil")
	ErrNilLogger       = errors.New("logger cannot be nil")
	ErrEmptyStyles     = errors.New("style catalog cannot be empty")
)

// Notifier is the subset of the scheduler handlers use to signal that new
// jobs were persisted outside Submit. Satisfied by *Scheduler.
type Notifier interface {
	Poke()
}

// ExpansionHandler executes prompt expansion jobs: it expands the task's
// subject into prompt variants, fans the task out into subtasks, and queues
// one generation job per subtask. The fan-out is written in a single
// transaction, so a re-executed job sees either a task still waiting for
// expansion or a fully fanned-out one, never half of each.
type ExpansionHandler struct {
	db       *sql.DB
	tasks    store.TaskStore
	subtasks store.SubTaskStore
	jobs     JobStore
	expander generation.PromptExpander
	planner  *fanout.Planner
	styles   map[string]domain.Style
	notifier Notifier
	logger   *slog.Logger
}

// NewExpansionHandler creates the handler for prompt expansion jobs
func NewExpansionHandler(
	db *sql.DB,
	tasks store.TaskStore,
	subtasks store.SubTaskStore,
	jobs JobStore,
	expander generation.PromptExpander,
	planner *fanout.Planner,
	styles map[string]domain.Style,
	notifier Notifier,
	logger *slog.Logger,
) (*ExpansionHandler, error) {
	// Validate dependencies
	if db == nil {
		return nil, ErrNilDB
	}
	if tasks == nil {
		return nil, ErrNilTaskStore
	}
	if subtasks == nil {
		return nil, ErrNilSubTaskStore
	}
	if jobs == nil {
		return nil, ErrNilJobStore
	}
	if expander == nil {
		return nil, ErrNilExpander
	}
	if planner == nil {
		return nil, ErrNilPlanner
	}
	if len(styles) == 0 {
		return nil, ErrEmptyStyles
	}
	if notifier == nil {
		return nil, ErrNilNotifier
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	return &ExpansionHandler{
		db:       db,
		tasks:    tasks,
		subtasks: subtasks,
		jobs:     jobs,
		expander: expander,
		planner:  planner,
		styles:   styles,
		notifier: notifier,
		logger:   logger.With("job_type", JobTypePromptExpansion),
	}, nil
}

// Execute runs one prompt expansion job, handling the complete lifecycle
// from loading the task, expanding its subject, planning the fan-out, and
// atomically persisting subtasks plus their generation jobs.
func (h *ExpansionHandler) Execute(ctx context.Context, j *Job) error {
	var payload PromptExpansionPayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal expansion payload: %w", err)
	}

	logger := h.logger.With("job_id", j.ID, "task_id", payload.TaskID)

	// 1. Load the task
	task, err := h.tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("failed to load task for expansion: %w", err)
		}
		return fmt.Errorf("failed to load task for expansion: %w: %w", ErrRetry, err)
	}

	// 2. Skip work that already moved on. Cancelled covers the user
	// cancelling between submit and claim; processing covers a re-executed
	// job whose fan-out already committed.
	if task.Status != domain.TaskStatusQueued && task.Status != domain.TaskStatusExpanding {
		logger.Info("skipping expansion, task no longer waiting for it", "task_status", task.Status)
		return nil
	}

	// 3. Move the task to expanding
	if task.Status == domain.TaskStatusQueued {
		if err := task.UpdateStatus(domain.TaskStatusExpanding); err != nil {
			return fmt.Errorf("failed to transition task to expanding: %w", err)
		}
		if err := h.tasks.UpdateStatus(ctx, task.ID, task.Status, task.Progress, ""); err != nil {
			return fmt.Errorf("failed to persist expanding status: %w: %w", ErrRetry, err)
		}
	}

	// 4. Resolve the style selection before spending an expensive LLM call
	styles, err := h.resolveStyles(task)
	if err != nil {
		logger.Error("task references unknown styles", "error", err)
		h.failTask(ctx, task, logger, fmt.Sprintf("fan-out aborted: %v", err))
		return nil
	}

	// 5. Expand the subject into prompt variants
	logger.Info("expanding subject into prompt variants",
		"variant_count", payload.VariantCount,
		"web_search", payload.WebSearch)
	variants, err := h.expander.ExpandPrompts(ctx, payload.Subject, payload.VariantCount, payload.WebSearch)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrTransientFailure):
			logger.Warn("prompt expansion failed transiently", "error", err)
			return fmt.Errorf("prompt expansion: %w: %w", ErrRetry, err)
		case errors.Is(err, generation.ErrContentBlocked),
			errors.Is(err, generation.ErrInvalidResponse),
			errors.Is(err, generation.ErrInvalidConfig),
			errors.Is(err, generation.ErrExpansionFailed):
			logger.Error("prompt expansion failed permanently", "error", err)
			h.failTask(ctx, task, logger, fmt.Sprintf("prompt expansion failed: %v", err))
			return nil
		default:
			return fmt.Errorf("prompt expansion: %w: %w", ErrRetry, err)
		}
	}

	logger.Info("prompt variants expanded", "count", len(variants))

	// 6. Plan the fan-out
	task.SetVariants(variants)
	subtasks, err := h.planner.Plan(task, variants, styles)
	if err != nil {
		logger.Error("failed to plan fan-out", "error", err)
		h.failTask(ctx, task, logger, fmt.Sprintf("fan-out planning failed: %v", err))
		return nil
	}

	genJobs := make([]*Job, 0, len(subtasks))
	for _, st := range subtasks {
		genJob, err := NewGenerateImageJob(st, nil, time.Time{})
		if err != nil {
			return fmt.Errorf("failed to build generation job: %w", err)
		}
		genJobs = append(genJobs, genJob)
	}

	if err := task.UpdateStatus(domain.TaskStatusProcessing); err != nil {
		return fmt.Errorf("failed to transition task to processing: %w", err)
	}

	// 7. Persist variants, subtasks, generation jobs and the status change
	// in one transaction
	err = store.RunInTransaction(ctx, h.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := h.tasks.WithTx(tx).Update(ctx, task); err != nil {
			return fmt.Errorf("failed to save expanded task: %w", err)
		}
		if err := h.subtasks.WithTx(tx).CreateBatch(ctx, subtasks); err != nil {
			return fmt.Errorf("failed to create subtasks: %w", err)
		}
		if err := h.jobs.WithTx(tx).CreateBatch(ctx, genJobs); err != nil {
			return fmt.Errorf("failed to queue generation jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist fan-out: %w: %w", ErrRetry, err)
	}

	// Wake the poll loop so the new generation jobs are claimed without
	// waiting for the next tick
	h.notifier.Poke()

	logger.Info("task fanned out",
		"subtask_count", len(subtasks),
		"total_expected", task.TotalExpected())
	return nil
}

// HandlePermanentFailure marks the task failed once its expansion job has
// exhausted the retry budget, so the user sees the failure instead of a
// task stuck in queued or expanding.
func (h *ExpansionHandler) HandlePermanentFailure(ctx context.Context, j *Job, jobErr error) {
	var payload PromptExpansionPayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("cannot resolve task for permanently failed expansion job",
			"job_id", j.ID,
			"error", err)
		return
	}

	logger := h.logger.With("job_id", j.ID, "task_id", payload.TaskID)

	task, err := h.tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		logger.Error("failed to load task for permanent failure handling", "error", err)
		return
	}

	if task.Status != domain.TaskStatusQueued && task.Status != domain.TaskStatusExpanding {
		return
	}

	// A job that died before its first status update leaves the task in
	// queued; walk it through expanding so the failure transition is legal.
	if task.Status == domain.TaskStatusQueued {
		if err := task.UpdateStatus(domain.TaskStatusExpanding); err != nil {
			logger.Error("failed to transition task to expanding", "error", err)
			return
		}
	}

	h.failTask(ctx, task, logger, fmt.Sprintf("prompt expansion gave up after %d attempts: %v", j.MaxAttempts, jobErr))
}

// resolveStyles maps the task's effective style selection to catalog
// entries, preserving selection order.
func (h *ExpansionHandler) resolveStyles(task *domain.Task) ([]domain.Style, error) {
	ids := task.EffectiveStyleIDs()
	styles := make([]domain.Style, 0, len(ids))
	for _, id := range ids {
		style, ok := h.styles[id]
		if !ok {
			return nil, fmt.Errorf("unknown style %q", id)
		}
		styles = append(styles, style)
	}
	return styles, nil
}

// failTask transitions the task to failed and persists the transition with
// the reason. Persistence errors are logged, not returned: by this point
// the job's own outcome is already decided.
func (h *ExpansionHandler) failTask(ctx context.Context, task *domain.Task, logger *slog.Logger, reason string) {
	if err := task.UpdateStatus(domain.TaskStatusFailed); err != nil {
		logger.Error("failed to transition task to failed", "error", err)
		return
	}

	if err := h.tasks.UpdateStatus(ctx, task.ID, task.Status, task.Progress, reason); err != nil {
		logger.Error("failed to persist failed task status", "error", err)
	}
}
