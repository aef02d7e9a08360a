package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusDraft         TaskStatus = "draft"
	TaskStatusQueued        TaskStatus = "queued"
	TaskStatusExpanding     TaskStatus = "expanding"
	TaskStatusProcessing    TaskStatus = "processing"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusPartialFailed TaskStatus = "partial_failed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// Batch sizing limits shared by validation at every layer.
const (
	MaxBatchSize        = 50
	MaxVariantCount     = 10
	DefaultVariantCount = 3
)

// Common validation errors for Task
var (
	ErrEmptyTaskID              = errors.New("task ID cannot be empty")
	ErrEmptyTaskSubject         = errors.New("task subject cannot be empty")
	ErrNoStylesSelected         = errors.New("at least one style must be selected")
	ErrNoModelsSelected         = errors.New("at least one model must be selected")
	ErrInvalidTaskStatus        = errors.New("invalid task status")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrBatchSizeOutOfRange      = errors.New("count per prompt must be between 1 and 50")
	ErrVariantCountOutOfRange   = errors.New("variant count must be between 1 and 10")
	ErrInvalidProgress          = errors.New("progress must be between 0 and 100")
	ErrInvalidTaskTotalExpected = errors.New("total expected count cannot be negative")
)

// PromptVariant is one expanded rendition of the task subject, produced by the
// prompt-expansion step. Slug is filename-safe and used for artifact naming.
type PromptVariant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OriginalText string `json:"original_text"`
	ExpandedText string `json:"expanded_text"`
	Slug         string `json:"slug"`
}

// BatchConfig holds the fan-out dimensions a user configures on a task.
type BatchConfig struct {
	// VariantCount is the number of prompt variants requested from expansion.
	// TotalExpected falls back to it until expansion has produced variants.
	VariantCount int `json:"variant_count"`

	// CountPerPrompt is how many images to generate per variant/style/model
	// combination. Bounded by [1, MaxBatchSize].
	CountPerPrompt int `json:"count_per_prompt"`

	// IncludeBaseStyle adds the implicit "no modification" style to the
	// selected styles unless it is already selected.
	IncludeBaseStyle bool `json:"include_base_style"`

	// AspectRatio applies to every generation in the batch, e.g. "1:1".
	AspectRatio string `json:"aspect_ratio"`

	// NegativePrompt is appended to every unit's style negative prompt.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Seed, when set, derives a deterministic per-unit seed (base + plan
	// ordinal). When nil each provider picks its own.
	Seed *int64 `json:"seed,omitempty"`

	// WebSearch lets prompt expansion ground variants in current web
	// results, for subjects that reference recent events or products.
	WebSearch bool `json:"web_search"`

	// TotalExpected is the computed fan-out size. Maintained via
	// Task.RecomputeTotalExpected; never written directly elsewhere.
	TotalExpected int `json:"total_expected"`
}

// Task is the aggregate root for one creative request. It fans out into
// SubTasks (one per prompt variant, style, model and batch index) and its
// status converges from the live distribution of their statuses.
type Task struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Variants  []PromptVariant `json:"variants,omitempty"`
	StyleIDs  []string        `json:"style_ids"`
	ModelIDs  []string        `json:"model_ids"`
	Batch     BatchConfig     `json:"batch"`
	Status    TaskStatus      `json:"status"`
	Progress  int             `json:"progress"`
	ErrorLog  string          `json:"error_log,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewTask creates a draft task with the given subject, selections and batch
// configuration. It generates the task ID, computes the initial expected
// fan-out size and validates the result.
func NewTask(subject string, styleIDs, modelIDs []string, batch BatchConfig) (*Task, error) {
	if batch.VariantCount == 0 {
		batch.VariantCount = DefaultVariantCount
	}
	if batch.AspectRatio == "" {
		batch.AspectRatio = "1:1"
	}

	task := &Task{
		ID:        uuid.New(),
		Subject:   strings.TrimSpace(subject),
		StyleIDs:  styleIDs,
		ModelIDs:  modelIDs,
		Batch:     batch,
		Status:    TaskStatusDraft,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	task.RecomputeTotalExpected()

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.Subject == "" {
		return ErrEmptyTaskSubject
	}

	if len(t.StyleIDs) == 0 {
		return ErrNoStylesSelected
	}

	if len(t.ModelIDs) == 0 {
		return ErrNoModelsSelected
	}

	if t.Batch.CountPerPrompt < 1 || t.Batch.CountPerPrompt > MaxBatchSize {
		return ErrBatchSizeOutOfRange
	}

	if t.Batch.VariantCount < 1 || t.Batch.VariantCount > MaxVariantCount {
		return ErrVariantCountOutOfRange
	}

	if t.Batch.TotalExpected < 0 {
		return ErrInvalidTaskTotalExpected
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// UpdateStatus moves the task to the given status, rejecting transitions the
// lifecycle does not permit. Updates the UpdatedAt timestamp on success.
func (t *Task) UpdateStatus(status TaskStatus) error {
	if !isValidTaskStatus(status) {
		return ErrInvalidTaskStatus
	}

	if !CanTransitionTask(t.Status, status) {
		return ErrInvalidStatusTransition
	}

	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CanTransitionTask reports whether the task lifecycle permits moving from one
// status to another. Terminal statuses admit only the explicit user actions:
// retry-failed re-enters processing from failed/partial_failed, and nothing
// leaves completed or cancelled.
func CanTransitionTask(from, to TaskStatus) bool {
	allowed, ok := taskTransitions[from]
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

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusDraft:     {TaskStatusQueued},
	TaskStatusQueued:    {TaskStatusExpanding, TaskStatusCancelled},
	TaskStatusExpanding: {TaskStatusProcessing, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusProcessing: {
		TaskStatusCompleted,
		TaskStatusPartialFailed,
		TaskStatusFailed,
		TaskStatusCancelled,
	},
	TaskStatusPartialFailed: {TaskStatusProcessing},
	TaskStatusFailed:        {TaskStatusProcessing},
	TaskStatusCompleted:     {},
	TaskStatusCancelled:     {},
}

// IsTerminalTaskStatus reports whether the status is an end state of the task
// lifecycle. partial_failed and failed are terminal but re-enterable via the
// retry-failed action.
func IsTerminalTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusPartialFailed, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// EffectiveStyleIDs returns the selected styles plus the implicit base style
// when IncludeBaseStyle is set and the base style is not already selected.
// Order of the explicit selections is preserved; the base style is appended.
func (t *Task) EffectiveStyleIDs() []string {
	ids := make([]string, len(t.StyleIDs))
	copy(ids, t.StyleIDs)

	if !t.Batch.IncludeBaseStyle {
		return ids
	}
	for _, id := range ids {
		if id == BaseStyleID {
			return ids
		}
	}
	return append(ids, BaseStyleID)
}

// RecomputeTotalExpected refreshes Batch.TotalExpected from the canonical
// formula: variants x effective styles x models x count per prompt, where the
// variant count is the actual expanded count once available and the configured
// VariantCount before that. This is the only place the formula lives.
func (t *Task) RecomputeTotalExpected() {
	variantCount := len(t.Variants)
	if variantCount == 0 {
		variantCount = t.Batch.VariantCount
	}

	t.Batch.TotalExpected = variantCount * len(t.EffectiveStyleIDs()) * len(t.ModelIDs) * t.Batch.CountPerPrompt
}

// TotalExpected returns the expected number of SubTasks for this task.
func (t *Task) TotalExpected() int {
	return t.Batch.TotalExpected
}

// SetVariants records the expanded prompt variants and refreshes the expected
// fan-out size to use the actual variant count.
func (t *Task) SetVariants(variants []PromptVariant) {
	t.Variants = variants
	t.RecomputeTotalExpected()
	t.UpdatedAt = time.Now().UTC()
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusDraft, TaskStatusQueued, TaskStatusExpanding, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusPartialFailed, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

var slugStripPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts free text into a filename-safe slug: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, trimmed to 48 characters.
func Slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = slugStripPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	if slug == "" {
		slug = "variant"
	}
	return slug
}
