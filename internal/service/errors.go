package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in service-specific error types
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotFound indicates that the requested task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrSubTaskNotFound indicates that the requested subtask does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrSubTaskNotFound = errors.New("subtask not found")

	// ErrUnknownStyle indicates that a task references a style ID missing
	// from the style catalog. Returned at submit time so a draft can be
	// corrected before anything is enqueued.
	// API layer should map this to HTTP 400 Bad Request.
	ErrUnknownStyle = errors.New("unknown style")

	// ErrUnknownModel indicates that a task references a model ID with no
	// registered provider adapter.
	// API layer should map this to HTTP 400 Bad Request.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoStylesSelected indicates that a task was submitted with no styles
	// selected.
	// API layer should map this to HTTP 400 Bad Request.
	ErrNoStylesSelected = errors.New("no styles selected")

	// ErrNoModelsSelected indicates that a task was submitted with no models
	// selected.
	// API layer should map this to HTTP 400 Bad Request.
	ErrNoModelsSelected = errors.New("no models selected")

	// ErrTaskNotSubmittable indicates a submit action on a task that is no
	// longer a draft.
	// API layer should map this to HTTP 409 Conflict.
	ErrTaskNotSubmittable = errors.New("task cannot be submitted in its current status")

	// ErrTaskNotCancellable indicates a cancel action on a draft or settled
	// task.
	// API layer should map this to HTTP 409 Conflict.
	ErrTaskNotCancellable = errors.New("task cannot be cancelled in its current status")

	// ErrTaskNotRetryable indicates a retry action on a task that is not in
	// a failed or partially failed status.
	// API layer should map this to HTTP 409 Conflict.
	ErrTaskNotRetryable = errors.New("task cannot be retried in its current status")

	// ErrNothingToRetry indicates a retry action on a task with no failed
	// subtasks left to reset.
	// API layer should map this to HTTP 409 Conflict.
	ErrNothingToRetry = errors.New("task has no failed subtasks to retry")

	// ErrSubTaskNotRetryable indicates a retry action on a subtask that is
	// not in a failed status.
	// API layer should map this to HTTP 400 Bad Request.
	ErrSubTaskNotRetryable = errors.New("subtask is not in a failed status")

	// ErrTaskCancelled indicates an action on a subtask whose parent task
	// has been cancelled.
	// API layer should map this to HTTP 409 Conflict.
	ErrTaskCancelled = errors.New("parent task has been cancelled")
)
