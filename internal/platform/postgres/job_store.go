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

	"github.com/easelhq/easel-api/internal/job"
	"github.com/easelhq/easel-api/internal/platform/logger"
	"github.com/easelhq/easel-api/internal/store"
)

// PostgresJobStore implements the job.JobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the JobStore
// interface. It accepts a database connection or transaction that should be
// initialized and managed by the caller. If logger is nil, a default logger
// will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements job.JobStore interface
var _ job.JobStore = (*PostgresJobStore)(nil)

// jobColumns is the select list shared by every job read. Scan order must
// match scanJob.
const jobColumns = `id, type, payload, status, attempts, max_attempts, run_after, last_error, created_at, updated_at`

// jobColumnCount is the number of columns written per row in CreateBatch.
const jobColumnCount = 10

// Create implements job.JobStore.Create
// It persists a new job.
func (s *PostgresJobStore) Create(ctx context.Context, j *job.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		j.ID,
		j.Type,
		[]byte(j.Payload),
		j.Status,
		j.Attempts,
		j.MaxAttempts,
		j.RunAfter,
		j.LastError,
		j.CreatedAt,
		j.UpdatedAt,
	)

	if err != nil {
		log.Error("failed to create job",
			slog.String("error", err.Error()),
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type))
		return MapError(err)
	}

	log.Debug("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type))
	return nil
}

// CreateBatch implements job.JobStore.CreateBatch
// It persists multiple jobs in a single multi-row INSERT.
func (s *PostgresJobStore) CreateBatch(ctx context.Context, jobs []*job.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(jobs) == 0 {
		return nil
	}

	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(jobs)*jobColumnCount)
	)
	for i, j := range jobs {
		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("(")
		for k := 0; k < jobColumnCount; k++ {
			if k > 0 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*jobColumnCount+k+1)
		}
		placeholders.WriteString(")")

		args = append(args,
			j.ID,
			j.Type,
			[]byte(j.Payload),
			j.Status,
			j.Attempts,
			j.MaxAttempts,
			j.RunAfter,
			j.LastError,
			j.CreatedAt,
			j.UpdatedAt,
		)
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ` + placeholders.String()

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to create job batch",
			slog.String("error", err.Error()),
			slog.Int("count", len(jobs)))
		return MapError(err)
	}

	log.Debug("job batch created", slog.Int("count", len(jobs)))
	return nil
}

// GetByID implements job.JobStore.GetByID
// It retrieves a job by its unique identifier.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("job not found", slog.String("job_id", id.String()))
			return nil, store.ErrJobNotFound
		}
		log.Error("failed to get job by ID",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return nil, err
	}

	return j, nil
}

// ClaimDue implements job.JobStore.ClaimDue
// It atomically transitions up to limit due pending jobs to processing and
// returns them. FOR UPDATE SKIP LOCKED keeps concurrent schedulers from
// claiming the same row: each claimant locks its candidate rows and everyone
// else skips past them.
func (s *PostgresJobStore) ClaimDue(ctx context.Context, limit int) ([]*job.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		return []*job.Job{}, nil
	}

	now := time.Now().UTC()

	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE id IN (
			SELECT id
			FROM jobs
			WHERE status = $3 AND run_after <= $2
			ORDER BY run_after
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := s.db.QueryContext(ctx, query, job.JobStatusProcessing, now, job.JobStatusPending, limit)
	if err != nil {
		log.Error("failed to claim due jobs", slog.String("error", err.Error()))
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	jobs := []*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			log.Error("failed to scan claimed job row", slog.String("error", err.Error()))
			return nil, err
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		log.Error("error after scanning claimed job rows", slog.String("error", err.Error()))
		return nil, err
	}

	if len(jobs) > 0 {
		log.Debug("claimed due jobs", slog.Int("count", len(jobs)))
	}
	return jobs, nil
}

// MarkCompleted implements job.JobStore.MarkCompleted
// It transitions a job to completed.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, job.JobStatusCompleted, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to mark job completed",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		log.Debug("job not found for completion", slog.String("job_id", id.String()))
		return store.ErrJobNotFound
	}

	log.Debug("job marked completed", slog.String("job_id", id.String()))
	return nil
}

// MarkFailed implements job.JobStore.MarkFailed
// It transitions a job to failed, recording the final error.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(ctx, query, job.JobStatusFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		log.Error("failed to mark job failed",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		log.Debug("job not found for failure", slog.String("job_id", id.String()))
		return store.ErrJobNotFound
	}

	log.Debug("job marked failed", slog.String("job_id", id.String()))
	return nil
}

// ScheduleRetry implements job.JobStore.ScheduleRetry
// It returns a processing job to pending with an updated attempt count, a new
// run_after, and the error that caused the retry.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *PostgresJobStore) ScheduleRetry(
	ctx context.Context,
	id uuid.UUID,
	attempts int,
	runAfter time.Time,
	errMsg string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = $1, attempts = $2, run_after = $3, last_error = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		job.JobStatusPending,
		attempts,
		runAfter,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		log.Error("failed to schedule job retry",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		log.Debug("job not found for retry", slog.String("job_id", id.String()))
		return store.ErrJobNotFound
	}

	log.Debug("job retry scheduled",
		slog.String("job_id", id.String()),
		slog.Int("attempts", attempts),
		slog.Time("run_after", runAfter))
	return nil
}

// ResetProcessing implements job.JobStore.ResetProcessing
// It returns processing jobs older than olderThan to pending without touching
// their attempt counts, reporting how many rows changed. A zero olderThan
// resets every processing job, which the scheduler uses at startup to recover
// work orphaned by a crash.
func (s *PostgresJobStore) ResetProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		query string
		args  []any
	)

	now := time.Now().UTC()
	if olderThan > 0 {
		query = `
			UPDATE jobs
			SET status = $1, updated_at = $2
			WHERE status = $3 AND updated_at < $4
		`
		args = []any{job.JobStatusPending, now, job.JobStatusProcessing, now.Add(-olderThan)}
	} else {
		query = `
			UPDATE jobs
			SET status = $1, updated_at = $2
			WHERE status = $3
		`
		args = []any{job.JobStatusPending, now, job.JobStatusProcessing}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to reset processing jobs", slog.String("error", err.Error()))
		return 0, MapError(err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		log.Error("failed to get rows affected", slog.String("error", err.Error()))
		return 0, err
	}

	if reset > 0 {
		log.Info("reset processing jobs to pending", slog.Int64("reset", reset))
	}
	return reset, nil
}

// WithTx implements job.JobStore.WithTx
// It returns a new JobStore instance that uses the provided transaction.
// The transaction should be created and managed by the caller.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) job.JobStore {
	return &PostgresJobStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanJob maps a job row onto a job.Job.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j       job.Job
		status  string
		payload []byte
	)

	err := row.Scan(
		&j.ID,
		&j.Type,
		&payload,
		&status,
		&j.Attempts,
		&j.MaxAttempts,
		&j.RunAfter,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.JobStatus(status)
	j.Payload = payload

	return &j, nil
}
