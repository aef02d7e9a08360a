package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SubTaskStatus represents the lifecycle state of one generation unit.
type SubTaskStatus string

// Possible subtask status values
const (
	SubTaskStatusPending    SubTaskStatus = "pending"
	SubTaskStatusProcessing SubTaskStatus = "processing"
	SubTaskStatusSuccess    SubTaskStatus = "success"
	SubTaskStatusFailed     SubTaskStatus = "failed"
	SubTaskStatusCancelled  SubTaskStatus = "cancelled"
)

// MaxSubTaskRetries bounds how many failed executions a unit may accumulate
// before it fails permanently.
const MaxSubTaskRetries = 3

// Common validation errors for SubTask
var (
	ErrEmptySubTaskID       = errors.New("subtask ID cannot be empty")
	ErrEmptySubTaskTaskID   = errors.New("subtask task ID cannot be empty")
	ErrEmptySubTaskModel    = errors.New("subtask model ID cannot be empty")
	ErrEmptySubTaskStyle    = errors.New("subtask style ID cannot be empty")
	ErrEmptySubTaskPrompt   = errors.New("subtask prompt cannot be empty")
	ErrNegativeBatchIndex   = errors.New("subtask batch index cannot be negative")
	ErrInvalidSubTaskStatus = errors.New("invalid subtask status")
	ErrRetryBudgetExceeded  = errors.New("subtask retry budget exceeded")
	ErrSubTaskNotFailed     = errors.New("subtask is not in failed status")
)

// SubTask is one concrete generation call: a single prompt variant merged with
// a single style, sent to a single model, at one batch index. A task owns its
// subtasks exclusively; the executor mutates them only through the store.
type SubTask struct {
	ID             uuid.UUID     `json:"id"`
	TaskID         uuid.UUID     `json:"task_id"`
	VariantID      string        `json:"variant_id"`
	StyleID        string        `json:"style_id"`
	ModelID        string        `json:"model_id"`
	BatchIndex     int           `json:"batch_index"`
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt,omitempty"`
	AspectRatio    string        `json:"aspect_ratio"`
	Seed           *int64        `json:"seed,omitempty"`
	Status         SubTaskStatus `json:"status"`
	RetryCount     int           `json:"retry_count"`
	ErrorLog       string        `json:"error_log,omitempty"`
	ErrorCategory  string        `json:"error_category,omitempty"`

	// Result fields, populated on success.
	ImageURL     string `json:"image_url,omitempty"`
	ImageWidth   int    `json:"image_width,omitempty"`
	ImageHeight  int    `json:"image_height,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	ProviderSeed *int64 `json:"provider_seed,omitempty"`

	// Snapshots of the outgoing request and provider response, kept for
	// observability. Raw image bytes are never stored here.
	RequestSnapshot  json.RawMessage `json:"request_snapshot,omitempty"`
	ResponseSnapshot json.RawMessage `json:"response_snapshot,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSubTask creates a pending subtask for the given task and fan-out tuple.
// Returns an error if validation fails.
func NewSubTask(taskID uuid.UUID, variantID, styleID, modelID string, batchIndex int, prompt, negativePrompt, aspectRatio string, seed *int64) (*SubTask, error) {
	st := &SubTask{
		ID:             uuid.New(),
		TaskID:         taskID,
		VariantID:      variantID,
		StyleID:        styleID,
		ModelID:        modelID,
		BatchIndex:     batchIndex,
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		AspectRatio:    aspectRatio,
		Seed:           seed,
		Status:         SubTaskStatusPending,
		RetryCount:     0,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := st.Validate(); err != nil {
		return nil, err
	}

	return st, nil
}

// Validate checks if the SubTask has valid data.
func (s *SubTask) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySubTaskID
	}

	if s.TaskID == uuid.Nil {
		return ErrEmptySubTaskTaskID
	}

	if s.StyleID == "" {
		return ErrEmptySubTaskStyle
	}

	if s.ModelID == "" {
		return ErrEmptySubTaskModel
	}

	if s.Prompt == "" {
		return ErrEmptySubTaskPrompt
	}

	if s.BatchIndex < 0 {
		return ErrNegativeBatchIndex
	}

	if s.RetryCount < 0 || s.RetryCount > MaxSubTaskRetries {
		return ErrRetryBudgetExceeded
	}

	if !isValidSubTaskStatus(s.Status) {
		return ErrInvalidSubTaskStatus
	}

	return nil
}

// UpdateStatus moves the subtask to the given status, rejecting transitions
// the lifecycle does not permit.
func (s *SubTask) UpdateStatus(status SubTaskStatus) error {
	if !isValidSubTaskStatus(status) {
		return ErrInvalidSubTaskStatus
	}

	if !CanTransitionSubTask(s.Status, status) {
		return ErrInvalidStatusTransition
	}

	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// CanTransitionSubTask reports whether the subtask lifecycle permits moving
// from one status to another. A processing unit never moves to cancelled:
// cancellation is cooperative, so in-flight work runs to completion and writes
// its own outcome. failed-to-pending is the explicit retry edge.
func CanTransitionSubTask(from, to SubTaskStatus) bool {
	allowed, ok := subTaskTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

var subTaskTransitions = map[SubTaskStatus][]SubTaskStatus{
	SubTaskStatusPending:    {SubTaskStatusProcessing, SubTaskStatusCancelled},
	SubTaskStatusProcessing: {SubTaskStatusSuccess, SubTaskStatusFailed},
	SubTaskStatusFailed:     {SubTaskStatusPending},
	SubTaskStatusSuccess:    {},
	SubTaskStatusCancelled:  {},
}

// IsTerminalSubTaskStatus reports whether the status ends the unit's
// lifecycle. failed is terminal but re-enterable via explicit retry.
func IsTerminalSubTaskStatus(status SubTaskStatus) bool {
	switch status {
	case SubTaskStatusSuccess, SubTaskStatusFailed, SubTaskStatusCancelled:
		return true
	default:
		return false
	}
}

// MarkProcessing records the start of an execution attempt.
func (s *SubTask) MarkProcessing() error {
	if err := s.UpdateStatus(SubTaskStatusProcessing); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.StartedAt = &now
	return nil
}

// MarkSuccess records a successful generation result.
func (s *SubTask) MarkSuccess(imageURL string, width, height int, contentType string, providerSeed *int64) error {
	if err := s.UpdateStatus(SubTaskStatusSuccess); err != nil {
		return err
	}
	s.ImageURL = imageURL
	s.ImageWidth = width
	s.ImageHeight = height
	s.ContentType = contentType
	s.ProviderSeed = providerSeed
	s.ErrorLog = ""
	s.ErrorCategory = ""
	now := time.Now().UTC()
	s.CompletedAt = &now
	return nil
}

// MarkFailed records a permanent failure with its normalized category.
func (s *SubTask) MarkFailed(message, category string) error {
	if err := s.UpdateStatus(SubTaskStatusFailed); err != nil {
		return err
	}
	s.ErrorLog = message
	s.ErrorCategory = category
	now := time.Now().UTC()
	s.CompletedAt = &now
	return nil
}

// RecordRetryableFailure notes one failed execution of a retryable error and
// reports whether the unit still has budget to run again. When the budget is
// exhausted the unit is marked permanently failed instead.
func (s *SubTask) RecordRetryableFailure(message, category string) (retryAgain bool, err error) {
	s.RetryCount++
	if s.RetryCount >= MaxSubTaskRetries {
		return false, s.MarkFailed(message, category)
	}

	s.ErrorLog = message
	s.ErrorCategory = category
	s.Status = SubTaskStatusPending
	s.StartedAt = nil
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCancelled cancels a unit that has not started executing.
func (s *SubTask) MarkCancelled() error {
	if err := s.UpdateStatus(SubTaskStatusCancelled); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.CompletedAt = &now
	return nil
}

// ResetForRetry returns a failed unit to pending with a clean slate: retry
// count, error fields, result fields and timestamps are cleared while the
// fan-out identity (variant, style, model, batch index, prompt) is preserved.
func (s *SubTask) ResetForRetry() error {
	if s.Status != SubTaskStatusFailed {
		return ErrSubTaskNotFailed
	}

	s.Status = SubTaskStatusPending
	s.RetryCount = 0
	s.ErrorLog = ""
	s.ErrorCategory = ""
	s.ImageURL = ""
	s.ImageWidth = 0
	s.ImageHeight = 0
	s.ContentType = ""
	s.ProviderSeed = nil
	s.RequestSnapshot = nil
	s.ResponseSnapshot = nil
	s.StartedAt = nil
	s.CompletedAt = nil
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// isValidSubTaskStatus checks if the given status is a valid SubTaskStatus.
func isValidSubTaskStatus(status SubTaskStatus) bool {
	switch status {
	case SubTaskStatusPending, SubTaskStatusProcessing, SubTaskStatusSuccess,
		SubTaskStatusFailed, SubTaskStatusCancelled:
		return true
	default:
		return false
	}
}
