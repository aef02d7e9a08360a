package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/easelhq/easel-api/internal/events"
)

// Submitter is the subset of the scheduler the event handler uses.
// Satisfied by *Scheduler.
type Submitter interface {
	// Submit persists a job and wakes the poll loop
	Submit(ctx context.Context, j *Job) error
}

// JobEventHandler implements the events.EventHandler interface, turning job
// request events into persisted jobs. The event payload is already the job
// payload, so it passes through untouched.
type JobEventHandler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewJobEventHandler creates a new event handler that submits a job for
// every known event type.
func NewJobEventHandler(submitter Submitter, logger *slog.Logger) *JobEventHandler {
	return &JobEventHandler{
		submitter: submitter,
		logger:    logger.With("component", "job_event_handler"),
	}
}

// HandleEvent processes a job request event by building the matching job
// and submitting it. Events with a type no handler is registered for are
// ignored, so emitters can add new types before this side learns them.
func (h *JobEventHandler) HandleEvent(ctx context.Context, event *events.JobRequestEvent) error {
	switch event.Type {
	case JobTypePromptExpansion, JobTypeGenerateImage:
	default:
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	j, err := NewJob(event.Type, event.Payload)
	if err != nil {
		h.logger.Error("failed to build job from event", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to build job from event: %w", err)
	}

	h.logger.Debug("submitting job for event",
		"job_id", j.ID,
		"job_type", j.Type,
		"event_id", event.ID)
	if err := h.submitter.Submit(ctx, j); err != nil {
		h.logger.Error("failed to submit job",
			"error", err,
			"job_id", j.ID,
			"event_id", event.ID)
		return fmt.Errorf("failed to submit job: %w", err)
	}

	h.logger.Info("job submitted for event",
		"job_id", j.ID,
		"job_type", j.Type,
		"event_id", event.ID)
	return nil
}

// Ensure JobEventHandler implements events.EventHandler
var _ events.EventHandler = (*JobEventHandler)(nil)
