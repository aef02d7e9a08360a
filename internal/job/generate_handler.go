package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/provider"
	"github.com/easelhq/easel-api/internal/ratelimit"
	"github.com/easelhq/easel-api/internal/store"
)

// Common errors
var (
	ErrNilRegistry      = errors.New("adapter registry cannot be nil")
	ErrNilLimiter       = errors.New("rate limiter cannot be nil")
	ErrNilArtifactStore = errors.New("artifact store cannot be nil")
	ErrNilRefresher     = errors.New("status refresher cannot be nil")
)

// StatusRefresher recomputes a task's aggregate status from the live
// distribution of its unit statuses. Satisfied by the task service.
type StatusRefresher interface {
	// RefreshTaskStatus re-derives and persists the task's status and
	// progress from its subtask status counts
	RefreshTaskStatus(ctx context.Context, taskID uuid.UUID) error
}

// ArtifactStore persists generated images and returns a stable URL for
// them. Implemented by the object storage client.
type ArtifactStore interface {
	// StoreImage writes inline image bytes and returns their public URL
	StoreImage(ctx context.Context, taskID, subtaskID uuid.UUID, slug string, data []byte, contentType string) (string, error)

	// MirrorURL copies a provider-hosted image into storage and returns
	// the mirrored URL
	MirrorURL(ctx context.Context, taskID, subtaskID uuid.UUID, slug, srcURL string) (string, error)
}

// GenerateHandlerConfig tunes per-unit retry and rate-limit behavior
type GenerateHandlerConfig struct {
	// AcquireTimeout caps how long one execution waits for rate-limiter
	// capacity before the wait itself counts as a rate-limit failure
	AcquireTimeout time.Duration

	// RetryBaseDelay is the backoff before a unit's second run; it doubles
	// per recorded failure up to RetryMaxDelay
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the per-unit retry backoff
	RetryMaxDelay time.Duration
}

// DefaultGenerateHandlerConfig returns a GenerateHandlerConfig with
// reasonable defaults
func DefaultGenerateHandlerConfig() GenerateHandlerConfig {
	return GenerateHandlerConfig{
		AcquireTimeout: 30 * time.Second,
		RetryBaseDelay: 10 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
	}
}

// GenerateHandler executes generation jobs: one provider call per subtask,
// gated by the provider's rate limit. Provider failures are normalized into
// the canonical taxonomy; retryable ones consume the unit's retry budget
// and requeue a delayed job, permanent ones fail the unit. Either way the
// outcome lands on the subtask and the parent task's aggregate is
// refreshed, so the job itself completes.
type GenerateHandler struct {
	subtasks  store.SubTaskStore
	jobs      JobStore
	registry  *provider.Registry
	limiter   *ratelimit.Limiter
	artifacts ArtifactStore
	refresher StatusRefresher
	notifier  Notifier
	config    GenerateHandlerConfig
	logger    *slog.Logger
}

// NewGenerateHandler creates the handler for generation jobs. Zero config
// fields fall back to the defaults.
func NewGenerateHandler(
	subtasks store.SubTaskStore,
	jobs JobStore,
	registry *provider.Registry,
	limiter *ratelimit.Limiter,
	artifacts ArtifactStore,
	refresher StatusRefresher,
	notifier Notifier,
	config GenerateHandlerConfig,
	logger *slog.Logger,
) (*GenerateHandler, error) {
	// Validate dependencies
	if subtasks == nil {
		return nil, ErrNilSubTaskStore
	}
	if jobs == nil {
		return nil, ErrNilJobStore
	}
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if limiter == nil {
		return nil, ErrNilLimiter
	}
	if artifacts == nil {
		return nil, ErrNilArtifactStore
	}
	if refresher == nil {
		return nil, ErrNilRefresher
	}
	if notifier == nil {
		return nil, ErrNilNotifier
	}
	if logger == nil {
		return nil, ErrNilLogger
	}

	defaults := DefaultGenerateHandlerConfig()
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaults.AcquireTimeout
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}

	return &GenerateHandler{
		subtasks:  subtasks,
		jobs:      jobs,
		registry:  registry,
		limiter:   limiter,
		artifacts: artifacts,
		refresher: refresher,
		notifier:  notifier,
		config:    config,
		logger:    logger.With("job_type", JobTypeGenerateImage),
	}, nil
}

// Execute runs one generation job, handling the complete lifecycle from
// claiming the subtask, acquiring rate-limit capacity, calling the
// provider, and recording the outcome on the unit.
func (h *GenerateHandler) Execute(ctx context.Context, j *Job) error {
	var payload GenerateImagePayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal generation payload: %w", err)
	}

	logger := h.logger.With("job_id", j.ID, "subtask_id", payload.SubTaskID, "model_id", payload.ModelID)

	// Check for context cancellation before doing any work
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("generation interrupted: %w: %w", ErrRetry, err)
	}

	// 1. Load the unit
	st, err := h.subtasks.GetByID(ctx, payload.SubTaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return fmt.Errorf("failed to load subtask: %w", err)
		}
		return fmt.Errorf("failed to load subtask: %w: %w", ErrRetry, err)
	}

	logger = logger.With("task_id", st.TaskID)

	// 2. Skip units that already finished: cancelled between queue and
	// claim, or a re-executed job whose outcome already committed. The
	// refresh keeps a rerun that died between persisting its outcome and
	// aggregating it from leaving the task stale.
	if domain.IsTerminalSubTaskStatus(st.Status) {
		logger.Info("skipping generation, subtask already finished", "subtask_status", st.Status)
		if err := h.refresher.RefreshTaskStatus(ctx, st.TaskID); err != nil {
			logger.Error("failed to refresh task status", "error", err)
		}
		return nil
	}

	// 3. Claim the unit. A unit already in processing is a re-execution
	// after a crash; it is claimed again as-is.
	if st.Status == domain.SubTaskStatusPending {
		if err := st.MarkProcessing(); err != nil {
			return fmt.Errorf("failed to mark subtask processing: %w", err)
		}
		if err := h.subtasks.Update(ctx, st); err != nil {
			return fmt.Errorf("failed to persist processing subtask: %w: %w", ErrRetry, err)
		}
	}

	// 4. Resolve the adapter. Model IDs are validated at submit time, so a
	// miss here is a deployment configuration error, not a retry case.
	adapter, err := h.registry.Get(st.ModelID)
	if err != nil {
		logger.Error("no adapter for model", "error", err)
		ne := &provider.NormalizedError{
			Category:  provider.CategoryInvalidInput,
			Message:   fmt.Sprintf("no adapter registered for model %q", st.ModelID),
			Retryable: false,
			Err:       err,
		}
		return h.handleGenerationFailure(ctx, st, payload.Options, ne, logger)
	}

	// 5. Respect the provider's rate limit
	providerName := adapter.Provider()
	if err := h.limiter.Acquire(ctx, providerName, h.config.AcquireTimeout); err != nil {
		if errors.Is(err, ratelimit.ErrAcquireTimeout) {
			logger.Warn("rate limiter capacity not acquired", "provider", providerName, "error", err)
			return h.handleGenerationFailure(ctx, st, payload.Options, adapter.NormalizeError(err), logger)
		}
		return fmt.Errorf("rate limiter wait interrupted: %w: %w", ErrRetry, err)
	}

	// 6. Build the provider request and snapshot it for observability
	req := buildGenerateRequest(st, payload.Options, adapter)
	if snapshot, err := json.Marshal(req); err == nil {
		st.RequestSnapshot = snapshot
	}

	// 7. Generate
	logger.Info("dispatching generation", "provider", providerName, "attempt", st.RetryCount+1)
	started := time.Now()
	result, genErr := adapter.Generate(ctx, req)
	if genErr == nil && !hasUsableImage(result) {
		genErr = provider.ErrNoImagesReturned
	}
	if genErr != nil {
		ne := adapter.NormalizeError(genErr)
		logger.Warn("generation failed",
			"provider", providerName,
			"category", ne.Category,
			"retryable", ne.Retryable,
			"error", genErr)
		return h.handleGenerationFailure(ctx, st, payload.Options, ne, logger)
	}

	logger.Info("generation succeeded",
		"provider", providerName,
		"elapsed", time.Since(started),
		"images", len(result.Images))

	// 8. Mirror the artifact and record the result
	image := result.Images[0]
	imageURL, err := h.storeArtifact(ctx, st, image, logger)
	if err != nil {
		return err
	}

	if snapshot, err := json.Marshal(result); err == nil {
		st.ResponseSnapshot = snapshot
	}

	if err := st.MarkSuccess(imageURL, image.Width, image.Height, image.ContentType, result.Seed); err != nil {
		return fmt.Errorf("failed to mark subtask success: %w", err)
	}
	if err := h.subtasks.Update(ctx, st); err != nil {
		return fmt.Errorf("failed to persist successful subtask: %w: %w", ErrRetry, err)
	}

	// 9. Fold the outcome into the parent task's aggregate
	if err := h.refresher.RefreshTaskStatus(ctx, st.TaskID); err != nil {
		return fmt.Errorf("failed to refresh task status: %w: %w", ErrRetry, err)
	}

	return nil
}

// HandlePermanentFailure marks the subtask failed once its generation job
// has exhausted the scheduler's retry budget on infrastructure errors, so
// the unit does not sit in processing forever.
func (h *GenerateHandler) HandlePermanentFailure(ctx context.Context, j *Job, jobErr error) {
	var payload GenerateImagePayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("cannot resolve subtask for permanently failed generation job",
			"job_id", j.ID,
			"error", err)
		return
	}

	logger := h.logger.With("job_id", j.ID, "subtask_id", payload.SubTaskID)

	st, err := h.subtasks.GetByID(ctx, payload.SubTaskID)
	if err != nil {
		logger.Error("failed to load subtask for permanent failure handling", "error", err)
		return
	}

	if domain.IsTerminalSubTaskStatus(st.Status) {
		return
	}

	// A job that died before claiming its unit leaves it pending; walk it
	// through processing so the failure transition stays legal.
	if st.Status == domain.SubTaskStatusPending {
		if err := st.MarkProcessing(); err != nil {
			logger.Error("failed to transition subtask to processing", "error", err)
			return
		}
	}

	message := fmt.Sprintf("generation job gave up after %d attempts: %v", j.MaxAttempts, jobErr)
	if err := st.MarkFailed(message, string(provider.CategoryUnknown)); err != nil {
		logger.Error("failed to transition subtask to failed", "error", err)
		return
	}
	if err := h.subtasks.Update(ctx, st); err != nil {
		logger.Error("failed to persist failed subtask", "error", err)
		return
	}
	if err := h.refresher.RefreshTaskStatus(ctx, st.TaskID); err != nil {
		logger.Error("failed to refresh task status", "error", err)
	}
}

// handleGenerationFailure routes a normalized failure. Retryable failures
// consume the unit's retry budget and requeue a delayed generation job;
// permanent ones fail the unit. In both cases the outcome is recorded on
// the entity and the job itself completes.
func (h *GenerateHandler) handleGenerationFailure(
	ctx context.Context,
	st *domain.SubTask,
	options map[string]any,
	ne *provider.NormalizedError,
	logger *slog.Logger,
) error {
	if !ne.Retryable {
		if err := st.MarkFailed(ne.Message, string(ne.Category)); err != nil {
			return fmt.Errorf("failed to mark subtask failed: %w", err)
		}
		if err := h.subtasks.Update(ctx, st); err != nil {
			return fmt.Errorf("failed to persist failed subtask: %w: %w", ErrRetry, err)
		}
		if err := h.refresher.RefreshTaskStatus(ctx, st.TaskID); err != nil {
			return fmt.Errorf("failed to refresh task status: %w: %w", ErrRetry, err)
		}
		return nil
	}

	retryAgain, err := st.RecordRetryableFailure(ne.Message, string(ne.Category))
	if err != nil {
		return fmt.Errorf("failed to record retryable failure: %w", err)
	}

	if err := h.subtasks.Update(ctx, st); err != nil {
		return fmt.Errorf("failed to persist subtask failure: %w: %w", ErrRetry, err)
	}

	if !retryAgain {
		logger.Warn("subtask retry budget exhausted",
			"category", ne.Category,
			"retry_count", st.RetryCount)
		if err := h.refresher.RefreshTaskStatus(ctx, st.TaskID); err != nil {
			return fmt.Errorf("failed to refresh task status: %w: %w", ErrRetry, err)
		}
		return nil
	}

	delay := backoffDelay(h.config.RetryBaseDelay, h.config.RetryMaxDelay, st.RetryCount)
	retryJob, err := NewGenerateImageJob(st, options, time.Now().UTC().Add(delay))
	if err != nil {
		return fmt.Errorf("failed to build retry job: %w", err)
	}
	if err := h.jobs.Create(ctx, retryJob); err != nil {
		return fmt.Errorf("failed to queue retry job: %w: %w", ErrRetry, err)
	}
	h.notifier.Poke()

	logger.Info("subtask requeued after retryable failure",
		"category", ne.Category,
		"retry_count", st.RetryCount,
		"retry_in", delay)
	return nil
}

// storeArtifact lands the generated image in object storage. Inline bytes
// must make it into storage; hosted URLs fall back to the provider copy
// when mirroring fails, so a storage hiccup does not rerun a paid
// generation.
func (h *GenerateHandler) storeArtifact(ctx context.Context, st *domain.SubTask, image provider.GeneratedImage, logger *slog.Logger) (string, error) {
	slug := domain.Slugify(st.Prompt)

	if len(image.Data) > 0 {
		url, err := h.artifacts.StoreImage(ctx, st.TaskID, st.ID, slug, image.Data, image.ContentType)
		if err != nil {
			return "", fmt.Errorf("failed to store generated image: %w: %w", ErrRetry, err)
		}
		return url, nil
	}

	url, err := h.artifacts.MirrorURL(ctx, st.TaskID, st.ID, slug, image.URL)
	if err != nil {
		logger.Warn("failed to mirror provider image, keeping provider url", "error", err)
		return image.URL, nil
	}
	return url, nil
}

// buildGenerateRequest assembles the provider request from the unit,
// honoring the adapter's feature set. Job options override the adapter's
// defaults key by key.
func buildGenerateRequest(st *domain.SubTask, options map[string]any, adapter provider.Adapter) provider.GenerateRequest {
	req := provider.GenerateRequest{
		Model:       st.ModelID,
		Prompt:      st.Prompt,
		AspectRatio: st.AspectRatio,
	}

	if st.NegativePrompt != "" && adapter.SupportsFeature(provider.FeatureNegativePrompt) {
		req.NegativePrompt = st.NegativePrompt
	}
	if st.Seed != nil && adapter.SupportsFeature(provider.FeatureSeed) {
		seed := *st.Seed
		req.Seed = &seed
	}

	merged := provider.Options{}
	for k, v := range adapter.DefaultOptions() {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}
	if len(merged) > 0 {
		req.Options = merged
	}

	return req
}

// hasUsableImage reports whether the result carries at least one image the
// pipeline can persist, either as inline bytes or a hosted URL.
func hasUsableImage(result *provider.GenerateResult) bool {
	if result == nil || len(result.Images) == 0 {
		return false
	}
	img := result.Images[0]
	return len(img.Data) > 0 || img.URL != ""
}
