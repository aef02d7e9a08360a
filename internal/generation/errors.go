package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrExpansionFailed is returned when prompt expansion fails for any general reason
	ErrExpansionFailed = errors.New("failed to expand subject into prompt variants")

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during prompt expansion")

	// ErrInvalidConfig is returned when the expander configuration is invalid
	ErrInvalidConfig = errors.New("invalid expander configuration")
)
