// Package dashscope implements the provider adapter for DashScope's
// qwen-image models over the synchronous multimodal-generation endpoint.
// Generated images are provider-hosted; the adapter returns their URLs and
// lets the artifact pipeline decide whether to mirror them.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/provider"
)

const (
	providerName = "dashscope"

	defaultBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultModel   = "qwen-image"
	defaultTimeout = 45 * time.Second
	defaultSize    = "1328*1328"

	generationPath = "/services/aigc/multimodal-generation/generation"
)

var supportedRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// sizeByRatio maps aspect ratios to the model's size vocabulary.
var sizeByRatio = map[string]string{
	"1:1":  "1328*1328",
	"16:9": "1664*928",
	"9:16": "928*1664",
	"4:3":  "1472*1140",
	"3:4":  "1140*1472",
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text string `json:"text,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// generationResponse is the {"output":{"choices":...}} success shape.
// Business failures reuse it with code and message set.
type generationResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"usage"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// DashScopeAdapter calls the DashScope text-to-image API synchronously and
// returns hosted image URLs with the dimensions the API reports.
type DashScopeAdapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Ensure DashScopeAdapter implements provider.Adapter
var _ provider.Adapter = (*DashScopeAdapter)(nil)

// NewDashScopeAdapter creates the DashScope adapter from provider
// configuration. A nil httpClient falls back to one with a request timeout.
func NewDashScopeAdapter(cfg config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) (*DashScopeAdapter, error) {
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

	return &DashScopeAdapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Provider returns the rate-limiter key shared by every DashScope model.
func (a *DashScopeAdapter) Provider() string {
	return providerName
}

// Generate performs one generation call. The returned error is the raw
// provider failure; NormalizeError translates it into the canonical
// taxonomy.
func (a *DashScopeAdapter) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.model
	}

	payload := generationRequest{
		Model: model,
		Input: generationInput{
			Messages: []generationMessage{{
				Role:    "user",
				Content: []generationContent{{Text: prompt}},
			}},
		},
	}
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		payload.Parameters.NegativePrompt = neg
	}
	payload.Parameters.Size = sizeForRatio(req.AspectRatio)
	if req.Seed != nil {
		seed := *req.Seed
		payload.Parameters.Seed = &seed
	}
	promptExtend := boolOption(req.Options, "prompt_extend", true)
	payload.Parameters.PromptExtend = &promptExtend
	watermark := boolOption(req.Options, "watermark", false)
	payload.Parameters.Watermark = &watermark

	started := time.Now()
	decoded, err := a.invoke(ctx, payload)
	if err != nil {
		return nil, err
	}

	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return nil, provider.ErrNoImagesReturned
	}

	result := &provider.GenerateResult{
		Images: []provider.GeneratedImage{{
			URL:         imageURL,
			Width:       decoded.Usage.Width,
			Height:      decoded.Usage.Height,
			ContentType: contentTypeFromURL(imageURL),
		}},
		Elapsed:  time.Since(started),
		Metadata: map[string]any{"request_id": decoded.RequestID},
	}
	if req.Seed != nil {
		seed := *req.Seed
		result.Seed = &seed
	}

	a.logger.DebugContext(ctx, "dashscope generation complete",
		"model", model,
		"request_id", decoded.RequestID,
		"elapsed", result.Elapsed)

	return result, nil
}

// NormalizeError classifies DashScope-specific failures before handing off
// to the baseline normalizer. Moderation rejections are recognized by
// provider code, and an empty choice list is a transient provider condition.
func (a *DashScopeAdapter) NormalizeError(err error) *provider.NormalizedError {
	if errors.Is(err, provider.ErrNoImagesReturned) {
		return &provider.NormalizedError{
			Category:  provider.CategoryProviderError,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && contentCodes[apiErr.Code] {
		return &provider.NormalizedError{
			Category:     provider.CategoryContentFiltered,
			Message:      apiErr.Message,
			Retryable:    false,
			ProviderCode: apiErr.Code,
			Err:          err,
		}
	}

	return provider.Normalize(err)
}

// DefaultOptions returns the options applied when a request carries none.
func (a *DashScopeAdapter) DefaultOptions() provider.Options {
	return provider.Options{
		"prompt_extend": true,
		"watermark":     false,
	}
}

// SupportsFeature reports whether the provider implements the feature. The
// endpoint produces one image per call, so batching is not supported.
func (a *DashScopeAdapter) SupportsFeature(feature provider.Feature) bool {
	switch feature {
	case provider.FeatureSeed, provider.FeatureNegativePrompt:
		return true
	default:
		return false
	}
}

// SupportedAspectRatios lists the aspect ratios the provider accepts.
func (a *DashScopeAdapter) SupportedAspectRatios() []string {
	return append([]string(nil), supportedRatios...)
}

// invoke posts the payload and decodes the response, turning both HTTP-level
// and in-body business failures into an *APIError.
func (a *DashScopeAdapter) invoke(ctx context.Context, payload generationRequest) (*generationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dashscope: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+generationPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dashscope: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dashscope: http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WarnContext(ctx, "error closing response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dashscope: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Code:       detail.Code,
				Message:    detail.Message,
				RequestID:  detail.RequestID,
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("dashscope: decode response: %w", err)
	}
	if decoded.Code != "" {
		return nil, &APIError{
			Code:      decoded.Code,
			Message:   decoded.Message,
			RequestID: decoded.RequestID,
		}
	}
	return &decoded, nil
}

func firstImageURL(resp *generationResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if url := strings.TrimSpace(content.Image); url != "" {
				return url
			}
		}
	}
	return ""
}

func sizeForRatio(aspectRatio string) string {
	if size, ok := sizeByRatio[strings.TrimSpace(aspectRatio)]; ok {
		return size
	}
	return defaultSize
}

// contentTypeFromURL guesses the content type of a hosted image from its
// path extension.
func contentTypeFromURL(imageURL string) string {
	trimmed := imageURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// boolOption reads a boolean option value, tolerating absent keys.
func boolOption(opts provider.Options, key string, fallback bool) bool {
	if raw, ok := opts[key]; ok {
		if b, ok := raw.(bool); ok {
			return b
		}
	}
	return fallback
}
