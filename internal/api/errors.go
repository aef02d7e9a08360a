package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/easelhq/easel-api/internal/api/shared"
	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/service"
	"github.com/easelhq/easel-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrSubTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrSubTaskNotFound):
		return http.StatusNotFound

	// Action rejections: the entity exists but its current status forbids
	// the requested transition.
	case errors.Is(err, service.ErrTaskNotSubmittable),
		errors.Is(err, service.ErrTaskNotCancellable),
		errors.Is(err, service.ErrTaskNotRetryable),
		errors.Is(err, service.ErrNothingToRetry),
		errors.Is(err, service.ErrTaskCancelled):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, service.ErrUnknownStyle),
		errors.Is(err, service.ErrUnknownModel),
		errors.Is(err, service.ErrNoStylesSelected),
		errors.Is(err, service.ErrNoModelsSelected),
		errors.Is(err, service.ErrSubTaskNotRetryable),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	// Map specific error types to user-friendly messages
	switch {
	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, service.ErrSubTaskNotFound),
		errors.Is(err, store.ErrSubTaskNotFound):
		return "Subtask not found"

	// Selection errors
	case errors.Is(err, service.ErrUnknownStyle):
		return "Unknown style selected"

	case errors.Is(err, service.ErrUnknownModel):
		return "Unknown model selected"

	case errors.Is(err, service.ErrNoStylesSelected):
		return "At least one style must be selected"

	case errors.Is(err, service.ErrNoModelsSelected):
		return "At least one model must be selected"

	// Action rejections
	case errors.Is(err, service.ErrTaskNotSubmittable):
		return "Task cannot be submitted in its current status"

	case errors.Is(err, service.ErrTaskNotCancellable):
		return "Task cannot be cancelled in its current status"

	case errors.Is(err, service.ErrTaskNotRetryable):
		return "Task cannot be retried in its current status"

	case errors.Is(err, service.ErrNothingToRetry):
		return "Task has no failed subtasks to retry"

	case errors.Is(err, service.ErrSubTaskNotRetryable):
		return "Subtask is not in a failed status"

	case errors.Is(err, service.ErrTaskCancelled):
		return "Parent task has been cancelled"

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID format"

	case errors.Is(err, domain.ErrValidation):
		return "Invalid task data"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps an error to its status code and safe message and writes
// the JSON error response, logging the full error details. fallbackMessage,
// when non-empty, replaces the generic message for internal server errors so
// each endpoint can say what failed without saying why.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMessage != "" {
		message = fallbackMessage
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'CreateTaskRequest.Subject' Error:Field validation for 'Subject' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			// Further split to get just the field validation part
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				// Create a cleaner error message
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	// Fall back to a generic validation error message
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "gte":
		return "too small"
	case "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
