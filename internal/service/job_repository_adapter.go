package service

import (
	"database/sql"

	"github.com/easelhq/easel-api/internal/job"
)

// JobRepositoryAdapter adapts a job.JobStore to the service layer's
// JobRepository so user actions can enqueue background jobs inside the same
// transaction as the state they reset.
type JobRepositoryAdapter struct {
	job.JobStore
}

// NewJobRepositoryAdapter creates a new adapter that implements
// JobRepository by delegating to a job.JobStore implementation.
func NewJobRepositoryAdapter(jobStore job.JobStore) *JobRepositoryAdapter {
	return &JobRepositoryAdapter{
		JobStore: jobStore,
	}
}

// WithTx returns a JobRepository bound to the given transaction.
func (a *JobRepositoryAdapter) WithTx(tx *sql.Tx) JobRepository {
	return &JobRepositoryAdapter{
		JobStore: a.JobStore.WithTx(tx),
	}
}

// Ensure JobRepositoryAdapter implements service.JobRepository
var _ JobRepository = (*JobRepositoryAdapter)(nil)
