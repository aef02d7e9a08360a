package store_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/easelhq/easel-api/internal/store"
)

// Compile-time checks that both *sql.DB and *sql.Tx satisfy DBTX, so stores
// can run against a plain connection or inside a transaction.
var (
	_ store.DBTX = (*sql.DB)(nil)
	_ store.DBTX = (*sql.Tx)(nil)
)

// TestErrorDefinitions ensures that the error definitions in the store
// package are defined as expected and can be used with errors.Is.
func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	// Create functions that return the standard errors
	// This simulates how store implementations might return these errors
	taskNotFoundFn := func() error {
		return store.ErrTaskNotFound
	}

	duplicateSubTaskFn := func() error {
		return store.ErrDuplicateSubTask
	}

	// Test ErrTaskNotFound
	t.Run("ErrTaskNotFound", func(t *testing.T) {
		t.Parallel()

		// Get the error from the function
		err := taskNotFoundFn()

		// Verify it can be detected with errors.Is
		assert.True(t, errors.Is(err, store.ErrTaskNotFound))
		assert.True(t, errors.Is(err, store.ErrNotFound))
		assert.False(t, errors.Is(err, store.ErrDuplicateSubTask))

		// Verify the error message
		assert.Equal(t, "entity not found: task", err.Error())
	})

	// Test ErrDuplicateSubTask
	t.Run("ErrDuplicateSubTask", func(t *testing.T) {
		t.Parallel()

		// Get the error from the function
		err := duplicateSubTaskFn()

		// Verify it can be detected with errors.Is
		assert.True(t, errors.Is(err, store.ErrDuplicateSubTask))
		assert.True(t, errors.Is(err, store.ErrDuplicate))
		assert.False(t, errors.Is(err, store.ErrTaskNotFound))

		// Verify the error message
		assert.Equal(t, "entity already exists: subtask tuple", err.Error())
	})
}
