package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobStore defines the interface for persisting jobs
// Version: 1.0
type JobStore interface {
	// Create persists a new job
	Create(ctx context.Context, j *Job) error

	// CreateBatch persists multiple jobs in one operation
	CreateBatch(ctx context.Context, jobs []*Job) error

	// GetByID retrieves a job by its unique identifier
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// ClaimDue atomically transitions up to limit due pending jobs to
	// processing and returns them. A job is due when its run_after is at or
	// before now. Concurrent callers must never receive the same job.
	ClaimDue(ctx context.Context, limit int) ([]*Job, error)

	// MarkCompleted transitions a job to completed
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed transitions a job to failed, recording the final error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// ScheduleRetry returns a processing job to pending with an updated
	// attempt count, a new run_after, and the error that caused the retry
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, runAfter time.Time, errMsg string) error

	// ResetProcessing returns processing jobs older than olderThan to
	// pending without touching their attempt counts, reporting how many
	// rows changed. A zero olderThan resets every processing job, which
	// the scheduler uses at startup to recover work orphaned by a crash.
	ResetProcessing(ctx context.Context, olderThan time.Duration) (int64, error)

	// WithTx returns a new JobStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) JobStore
}
