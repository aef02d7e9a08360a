package geminiimage

import (
	"errors"
	"fmt"
	"strconv"
)

// Common errors returned by the Gemini image adapter
var (
	// ErrMissingAPIKey indicates the adapter was configured without credentials.
	ErrMissingAPIKey = errors.New("gemini image: api key is required")

	// ErrEmptyPrompt indicates the generation request carried no prompt text.
	ErrEmptyPrompt = errors.New("gemini image: prompt is required")

	// ErrContentBlocked indicates the model refused the prompt on safety
	// grounds. Blocks arrive as finish reasons or prompt feedback on an
	// otherwise successful response, never as an HTTP error.
	ErrContentBlocked = errors.New("gemini image: content blocked")
)

// APIError is a non-2xx response from the Gemini API, decoded from its
// {"error":{code,message,status}} envelope when one is present.
type APIError struct {
	// StatusCode is the HTTP status of the failed call.
	StatusCode int

	// Code is the numeric code inside the error envelope.
	Code int

	// Status is the symbolic envelope status, e.g. "RESOURCE_EXHAUSTED".
	Status string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Message == "":
		return fmt.Sprintf("gemini image: status %d", e.StatusCode)
	case e.Status != "":
		return fmt.Sprintf("gemini image: %s (%s)", e.Message, e.Status)
	default:
		return fmt.Sprintf("gemini image: %s", e.Message)
	}
}

// HTTPStatus exposes the status code to the error normalizer's status table.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// ProviderCode returns the symbolic envelope status, falling back to the
// numeric code when the API omitted one.
func (e *APIError) ProviderCode() string {
	if e.Status != "" {
		return e.Status
	}
	if e.Code != 0 {
		return strconv.Itoa(e.Code)
	}
	return ""
}
