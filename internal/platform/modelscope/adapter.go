// Package modelscope implements the provider adapter for ModelScope's
// asynchronous image inference API: a submit call returns a task identifier,
// and the adapter polls the task endpoint until the work reaches a terminal
// status.
package modelscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/provider"
)

const (
	providerName = "modelscope"

	defaultBaseURL = "https://api-inference.modelscope.cn"
	defaultModel   = "z-image"
	defaultTimeout = 30 * time.Second

	submitPath = "/v1/images/generations"
	taskPath   = "/v1/tasks/"

	asyncModeHeader     = "X-ModelScope-Async-Mode"
	taskTypeHeader      = "X-ModelScope-Task-Type"
	taskTypeImageGen    = "image_generation"
	defaultSize         = "1024x1024"
	maxImagesPerRequest = 4
)

// Task statuses reported by the task endpoint.
const (
	taskStatusSucceed    = "SUCCEED"
	taskStatusFailed     = "FAILED"
	taskStatusPending    = "PENDING"
	taskStatusRunning    = "RUNNING"
	taskStatusProcessing = "PROCESSING"
)

var supportedRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// sizeByRatio maps aspect ratios to the API's size vocabulary.
var sizeByRatio = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1280x720",
	"9:16": "720x1280",
	"4:3":  "1152x864",
	"3:4":  "864x1152",
}

// upstreamModels maps registered model IDs to the names the inference API
// expects. IDs without a mapping pass through unchanged.
var upstreamModels = map[string]string{
	"z-image": "Tongyi-MAI/Z-Image-Turbo",
}

// ModelScopeAdapter generates images through the async submit-and-poll
// flow and returns hosted output image URLs.
type ModelScopeAdapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	// pollMaxAttempts bounds how many status queries one generation makes.
	pollMaxAttempts int

	// sleep waits between polls; replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Ensure ModelScopeAdapter implements provider.Adapter
var _ provider.Adapter = (*ModelScopeAdapter)(nil)

// NewModelScopeAdapter creates the ModelScope adapter from provider
// configuration. A nil httpClient falls back to one with a request timeout.
func NewModelScopeAdapter(cfg config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) (*ModelScopeAdapter, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return &ModelScopeAdapter{
		apiKey:          strings.TrimSpace(cfg.APIKey),
		baseURL:         baseURL,
		model:           model,
		httpClient:      httpClient,
		logger:          logger,
		pollMaxAttempts: defaultMaxPollAttempts,
		sleep:           sleepContext,
	}, nil
}

// Provider returns the rate-limiter key shared by every ModelScope model.
func (a *ModelScopeAdapter) Provider() string {
	return providerName
}

// Generate submits one generation task and polls it to completion. The
// returned error is the raw provider failure; NormalizeError translates it
// into the canonical taxonomy.
func (a *ModelScopeAdapter) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.model
	}
	if upstream, ok := upstreamModels[model]; ok {
		model = upstream
	}

	size := sizeForRatio(req.AspectRatio)
	payload := taskSubmitRequest{
		Model:  model,
		Prompt: prompt,
		Size:   size,
		N:      imageCount(req.Options),
	}

	started := time.Now()
	submitted, err := a.submitTask(ctx, payload)
	if err != nil {
		return nil, err
	}

	a.logger.DebugContext(ctx, "modelscope task submitted",
		"model", model,
		"task_id", submitted.TaskID)

	task, err := a.pollTask(ctx, submitted.TaskID)
	if err != nil {
		return nil, err
	}

	width, height := sizeDims(size)
	var images []provider.GeneratedImage
	for _, imageURL := range task.OutputImages {
		if strings.TrimSpace(imageURL) == "" {
			continue
		}
		images = append(images, provider.GeneratedImage{
			URL:         imageURL,
			Width:       width,
			Height:      height,
			ContentType: contentTypeFromURL(imageURL),
		})
	}
	if len(images) == 0 {
		return nil, provider.ErrNoImagesReturned
	}

	result := &provider.GenerateResult{
		Images:  images,
		Elapsed: time.Since(started),
		Metadata: map[string]any{
			"task_id":    submitted.TaskID,
			"request_id": submitted.RequestID,
		},
	}

	a.logger.DebugContext(ctx, "modelscope generation complete",
		"task_id", submitted.TaskID,
		"images", len(images),
		"elapsed", result.Elapsed)

	return result, nil
}

// NormalizeError classifies ModelScope-specific failures before handing off
// to the baseline normalizer. A poll that never reached a terminal status
// is a timeout, and an empty output list on a succeeded task is a transient
// provider condition. Failed tasks carry only a free-form message and go
// through the baseline's pattern matching.
func (a *ModelScopeAdapter) NormalizeError(err error) *provider.NormalizedError {
	switch {
	case errors.Is(err, ErrPollTimeout):
		return &provider.NormalizedError{
			Category:  provider.CategoryTimeout,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	case errors.Is(err, provider.ErrNoImagesReturned):
		return &provider.NormalizedError{
			Category:  provider.CategoryProviderError,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}
	return provider.Normalize(err)
}

// DefaultOptions returns the options applied when a request carries none.
func (a *ModelScopeAdapter) DefaultOptions() provider.Options {
	return provider.Options{"n": 1}
}

// SupportsFeature reports whether the provider implements the feature. The
// submit body has no seed or negative prompt fields.
func (a *ModelScopeAdapter) SupportsFeature(feature provider.Feature) bool {
	return feature == provider.FeatureBatch
}

// SupportedAspectRatios lists the aspect ratios the provider accepts.
func (a *ModelScopeAdapter) SupportedAspectRatios() []string {
	return append([]string(nil), supportedRatios...)
}

// submitTask queues one generation task and returns its identifier.
func (a *ModelScopeAdapter) submitTask(ctx context.Context, payload taskSubmitRequest) (*taskSubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("modelscope: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("modelscope: build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set(asyncModeHeader, "true")

	raw, err := a.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}

	var decoded taskSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("modelscope: decode submit response: %w", err)
	}
	if decoded.TaskID == "" {
		return nil, ErrEmptyTaskID
	}
	return &decoded, nil
}

// do executes the request and returns the body, mapping non-2xx responses
// to an *APIError.
func (a *ModelScopeAdapter) do(ctx context.Context, httpReq *http.Request) ([]byte, error) {
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("modelscope: http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WarnContext(ctx, "error closing response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("modelscope: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func sizeForRatio(aspectRatio string) string {
	if size, ok := sizeByRatio[strings.TrimSpace(aspectRatio)]; ok {
		return size
	}
	return defaultSize
}

// sizeDims parses a "WIDTHxHEIGHT" size into dimensions. The task endpoint
// reports no dimensions, so the requested size is recorded instead.
func sizeDims(size string) (int, int) {
	parts := strings.Split(size, "x")
	if len(parts) != 2 {
		return 0, 0
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0
	}
	return width, height
}

// contentTypeFromURL guesses the content type of a hosted image from its
// path extension.
func contentTypeFromURL(imageURL string) string {
	trimmed := imageURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}

// imageCount resolves the n option, clamped to the per-request maximum.
func imageCount(opts provider.Options) int {
	count := 1
	if raw, ok := opts["n"]; ok {
		switch n := raw.(type) {
		case int:
			count = n
		case int64:
			count = int(n)
		case float64:
			// Options that round-tripped through a JSON job payload
			// arrive as float64.
			count = int(n)
		}
	}
	if count < 1 {
		count = 1
	}
	if count > maxImagesPerRequest {
		count = maxImagesPerRequest
	}
	return count
}

// sleepContext waits for the duration unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
