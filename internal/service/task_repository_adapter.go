package service

import (
	"database/sql"

	"github.com/easelhq/easel-api/internal/store"
)

// TaskRepositoryAdapter adapts a store.TaskStore to the service layer's
// TaskRepository, carrying the database handle that the service's
// transactional operations begin their transactions on.
type TaskRepositoryAdapter struct {
	store.TaskStore
	db *sql.DB
}

// NewTaskRepositoryAdapter creates a new adapter that implements
// TaskRepository by delegating to a store.TaskStore implementation.
func NewTaskRepositoryAdapter(taskStore store.TaskStore, db *sql.DB) *TaskRepositoryAdapter {
	return &TaskRepositoryAdapter{
		TaskStore: taskStore,
		db:        db,
	}
}

// WithTx returns a TaskRepository bound to the given transaction.
func (a *TaskRepositoryAdapter) WithTx(tx *sql.Tx) TaskRepository {
	return &TaskRepositoryAdapter{
		TaskStore: a.TaskStore.WithTx(tx),
		db:        a.db,
	}
}

// DB returns the underlying database connection.
func (a *TaskRepositoryAdapter) DB() *sql.DB {
	return a.db
}

// Ensure TaskRepositoryAdapter implements service.TaskRepository
var _ TaskRepository = (*TaskRepositoryAdapter)(nil)
