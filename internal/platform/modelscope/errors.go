package modelscope

import (
	"errors"
	"fmt"
)

// Common errors returned by the ModelScope adapter
var (
	// ErrMissingAPIKey indicates the adapter was configured without credentials.
	ErrMissingAPIKey = errors.New("modelscope: api key is required")

	// ErrEmptyPrompt indicates the generation request carried no prompt text.
	ErrEmptyPrompt = errors.New("modelscope: prompt is required")

	// ErrEmptyTaskID indicates the submit call succeeded but returned no
	// task identifier to poll.
	ErrEmptyTaskID = errors.New("modelscope: empty task_id in submit response")

	// ErrPollTimeout indicates the task did not reach a terminal status
	// within the polling budget.
	ErrPollTimeout = errors.New("modelscope: task polling timed out")
)

// TaskError is a generation task that reached the FAILED status. The
// provider reports only a free-form message, so classification relies on
// the baseline normalizer's message patterns.
type TaskError struct {
	// TaskID identifies the failed task on the provider side.
	TaskID string

	// Message is the failure description, possibly empty.
	Message string
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("modelscope: task %s failed", e.TaskID)
	}
	return fmt.Sprintf("modelscope: task %s failed: %s", e.TaskID, e.Message)
}

// APIError is a non-2xx response from the ModelScope inference API. Its
// error bodies have no documented envelope, so the raw body text is kept
// as the message.
type APIError struct {
	// StatusCode is the HTTP status of the failed call.
	StatusCode int

	// Message is the response body text.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("modelscope: status %d", e.StatusCode)
	}
	return fmt.Sprintf("modelscope: status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the error normalizer's status table.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}
