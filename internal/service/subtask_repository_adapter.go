package service

import (
	"database/sql"

	"github.com/easelhq/easel-api/internal/store"
)

// SubTaskRepositoryAdapter adapts a store.SubTaskStore to the service
// layer's SubTaskRepository.
type SubTaskRepositoryAdapter struct {
	store.SubTaskStore
}

// NewSubTaskRepositoryAdapter creates a new adapter that implements
// SubTaskRepository by delegating to a store.SubTaskStore implementation.
func NewSubTaskRepositoryAdapter(subTaskStore store.SubTaskStore) *SubTaskRepositoryAdapter {
	return &SubTaskRepositoryAdapter{
		SubTaskStore: subTaskStore,
	}
}

// WithTx returns a SubTaskRepository bound to the given transaction.
func (a *SubTaskRepositoryAdapter) WithTx(tx *sql.Tx) SubTaskRepository {
	return &SubTaskRepositoryAdapter{
		SubTaskStore: a.SubTaskStore.WithTx(tx),
	}
}

// Ensure SubTaskRepositoryAdapter implements service.SubTaskRepository
var _ SubTaskRepository = (*SubTaskRepositoryAdapter)(nil)
