package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrEmptySubject is returned when a task subject is empty.
	ErrEmptySubject = errors.New("subject cannot be empty")
)
