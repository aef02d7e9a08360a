package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
)

// JobStatus represents the current state of a queued job
type JobStatus string

// Possible job status values
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job type constants
const (
	// JobTypePromptExpansion expands a task's subject into prompt variants
	// and fans the task out into subtasks.
	JobTypePromptExpansion = "prompt_expansion"

	// JobTypeGenerateImage executes one subtask against its provider.
	JobTypeGenerateImage = "generate_image"
)

// DefaultMaxAttempts bounds how many times a job is executed before the
// scheduler gives up on it.
const DefaultMaxAttempts = 3

// Common errors
var (
	// ErrRetry marks a handler failure as transient. Handlers wrap it to ask
	// the scheduler for a requeue with backoff instead of a permanent failure.
	ErrRetry = errors.New("retryable job failure")

	// ErrUnknownJobType is returned when no handler is registered for a
	// job's type.
	ErrUnknownJobType = errors.New("no handler registered for job type")

	// ErrEmptyJobType is returned when a job is created without a type.
	ErrEmptyJobType = errors.New("job type cannot be empty")

	// ErrQueueClosed is returned when submitting to a stopped scheduler.
	ErrQueueClosed = errors.New("job queue is closed")
)

// Job is one persisted unit of background work. The payload is opaque JSON
// interpreted by the handler registered for the job's type, so a job can be
// re-executed from its database row after a restart.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAfter    time.Time       `json:"run_after"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a pending job of the given type, serializing the payload.
func NewJob(jobType string, payload interface{}) (*Job, error) {
	if jobType == "" {
		return nil, ErrEmptyJobType
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Payload:     data,
		Status:      JobStatusPending,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UnmarshalPayload decodes the job payload into the provided structure.
func (j *Job) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// PromptExpansionPayload is the persisted input of a prompt expansion job.
// It is self-contained so the job can run without re-reading the task's
// request fields.
type PromptExpansionPayload struct {
	TaskID       uuid.UUID `json:"task_id"`
	Subject      string    `json:"subject"`
	VariantCount int       `json:"variant_count"`
	WebSearch    bool      `json:"web_search"`
}

// GenerateImagePayload is the persisted input of a generate image job.
type GenerateImagePayload struct {
	SubTaskID      uuid.UUID      `json:"subtask_id"`
	ModelID        string         `json:"model_id"`
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	AspectRatio    string         `json:"aspect_ratio"`
	Seed           *int64         `json:"seed,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// NewPromptExpansionJob builds the expansion job for a freshly queued task.
func NewPromptExpansionJob(task *domain.Task) (*Job, error) {
	return NewJob(JobTypePromptExpansion, PromptExpansionPayload{
		TaskID:       task.ID,
		Subject:      task.Subject,
		VariantCount: task.Batch.VariantCount,
		WebSearch:    task.Batch.WebSearch,
	})
}

// NewGenerateImageJob builds the generation job for one subtask. options
// are provider-specific extras carried through retries unchanged. runAfter
// delays execution, which retry paths use for backoff; the zero time means
// run immediately.
func NewGenerateImageJob(subtask *domain.SubTask, options map[string]any, runAfter time.Time) (*Job, error) {
	j, err := NewJob(JobTypeGenerateImage, GenerateImagePayload{
		SubTaskID:      subtask.ID,
		ModelID:        subtask.ModelID,
		Prompt:         subtask.Prompt,
		NegativePrompt: subtask.NegativePrompt,
		AspectRatio:    subtask.AspectRatio,
		Seed:           subtask.Seed,
		Options:        options,
	})
	if err != nil {
		return nil, err
	}
	if !runAfter.IsZero() {
		j.RunAfter = runAfter.UTC()
	}
	return j, nil
}
