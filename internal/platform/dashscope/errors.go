package dashscope

import (
	"errors"
	"fmt"
)

// Common errors returned by the DashScope adapter
var (
	// ErrMissingAPIKey indicates the adapter was configured without credentials.
	ErrMissingAPIKey = errors.New("dashscope: api key is required")

	// ErrEmptyPrompt indicates the generation request carried no prompt text.
	ErrEmptyPrompt = errors.New("dashscope: prompt is required")
)

// contentCodes are provider codes DashScope uses when its moderation layer
// rejects the prompt or the generated output. The accompanying messages do
// not reliably match the baseline content patterns, so the adapter
// classifies by code.
var contentCodes = map[string]bool{
	"DataInspectionFailed":  true,
	"IPInfringementSuspect": true,
}

// APIError is a failed DashScope call. HTTP-level failures carry the
// response status; business failures reported inside a 200 body carry only
// the provider code and leave StatusCode zero.
type APIError struct {
	// StatusCode is the HTTP status of the failed call, or zero for a
	// business error delivered in a 200 response.
	StatusCode int

	// Code is the provider error code, e.g. "Throttling.RateQuota".
	Code string

	// Message is the human-readable error description.
	Message string

	// RequestID identifies the call on the provider side.
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Message == "" && e.Code == "":
		return fmt.Sprintf("dashscope: status %d", e.StatusCode)
	case e.Code != "":
		return fmt.Sprintf("dashscope: %s (%s)", e.Message, e.Code)
	default:
		return fmt.Sprintf("dashscope: %s", e.Message)
	}
}

// HTTPStatus exposes the status code to the error normalizer's status table.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// ProviderCode returns the provider-assigned error code.
func (e *APIError) ProviderCode() string {
	return e.Code
}
