package provider

import (
	"errors"
	"fmt"
)

// ErrorCategory is the canonical classification of a provider failure.
type ErrorCategory string

// The full taxonomy. Every provider failure maps to exactly one category.
const (
	CategoryRateLimited     ErrorCategory = "RateLimited"
	CategoryContentFiltered ErrorCategory = "ContentFiltered"
	CategoryInvalidInput    ErrorCategory = "InvalidInput"
	CategoryProviderError   ErrorCategory = "ProviderError"
	CategoryNetworkError    ErrorCategory = "NetworkError"
	CategoryTimeout         ErrorCategory = "Timeout"
	CategoryUnknown         ErrorCategory = "Unknown"
)

// Common errors returned by the provider package
var (
	// ErrAdapterNotFound is returned by the registry when no adapter is
	// registered for a model identifier. Model IDs are validated upstream,
	// so hitting this mid-job is a configuration error, not a retry case.
	ErrAdapterNotFound = errors.New("no adapter registered for model")

	// ErrNoImagesReturned is returned when a provider reports success but
	// the response carries no usable image.
	ErrNoImagesReturned = errors.New("provider returned no images")
)

// Retryable reports whether re-attempting an operation that failed with the
// given category is expected to sometimes succeed. It is a pure function of
// the category; nothing else feeds the retry decision.
func Retryable(category ErrorCategory) bool {
	switch category {
	case CategoryRateLimited, CategoryProviderError, CategoryNetworkError, CategoryTimeout:
		return true
	default:
		return false
	}
}

// NormalizedError is a provider failure translated into the canonical
// taxonomy. It carries the retryability verdict so callers never re-derive it.
type NormalizedError struct {
	Category     ErrorCategory `json:"category"`
	Message      string        `json:"message"`
	Retryable    bool          `json:"retryable"`
	ProviderCode string        `json:"provider_code,omitempty"`

	// Err preserves the raw provider error when one existed.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *NormalizedError) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("%s (%s): %s", e.Category, e.ProviderCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the raw provider error for errors.Is/As chains.
func (e *NormalizedError) Unwrap() error {
	return e.Err
}
