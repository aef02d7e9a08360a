package geminiimage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	// Registered decoders let image dimensions be read from returned payloads.
	_ "image/jpeg"
	_ "image/png"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/provider"
)

const (
	providerName = "gemini"

	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image"
	defaultTimeout = 60 * time.Second

	// maxImagesPerCall caps number_of_images regardless of options.
	maxImagesPerCall = 4
)

var supportedRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4"}

// ratioDims are the output dimensions the model produces per aspect ratio,
// used when the returned payload cannot be decoded.
var ratioDims = map[string][2]int{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
	"4:3":  {1184, 864},
	"3:4":  {864, 1184},
}

// blockedFinishReasons are the finish reasons the API uses when generation
// was refused on safety grounds.
var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"IMAGE_SAFETY":       true,
	"PROHIBITED_CONTENT": true,
}

// GeminiImageAdapter generates images through the Gemini generateContent
// REST endpoint with the image generation tool enabled. Results come back
// inline as base64 payloads or as file references that are downloaded before
// returning, so callers always receive raw bytes.
type GeminiImageAdapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Ensure GeminiImageAdapter implements provider.Adapter
var _ provider.Adapter = (*GeminiImageAdapter)(nil)

// NewGeminiImageAdapter creates the Gemini image adapter from provider
// configuration.
//
// Parameters:
//   - cfg: Provider configuration carrying the API key and optional base URL
//     and model overrides
//   - httpClient: HTTP client for API calls; nil falls back to a client with
//     a request timeout
//   - logger: A structured logger for operation logging
//
// Returns:
//   - A properly initialized GeminiImageAdapter or an error if required
//     configuration is missing
func NewGeminiImageAdapter(cfg config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) (*GeminiImageAdapter, error) {
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

	return &GeminiImageAdapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Provider returns the rate-limiter key shared by every Gemini image model.
func (a *GeminiImageAdapter) Provider() string {
	return providerName
}

// Generate performs one image generation call and returns the produced
// images as inline bytes. The returned error is the raw provider failure;
// NormalizeError translates it into the canonical taxonomy.
func (a *GeminiImageAdapter) Generate(ctx context.Context, req provider.GenerateRequest) (*provider.GenerateResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.model
	}

	count := imageCount(req.Options)
	payload := generateContentRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: buildPrompt(prompt, req.AspectRatio)}},
		}},
		Tools: []tool{{ImageGeneration: &imageGenerationTool{}}},
		ToolConfig: &toolConfig{
			ImageGenerationConfig: &imageGenerationConfig{NumberOfImages: count},
		},
	}
	if req.Seed != nil {
		seed := *req.Seed
		payload.GenerationConfig = &generationConfig{Seed: &seed}
	}

	started := time.Now()
	var decoded generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model))
	if err := a.invoke(ctx, path, payload, &decoded); err != nil {
		return nil, err
	}

	images, blockReason := a.collectImages(ctx, decoded, count, req.AspectRatio)
	if len(images) == 0 {
		if blockReason != "" {
			return nil, fmt.Errorf("%w: %s", ErrContentBlocked, blockReason)
		}
		return nil, provider.ErrNoImagesReturned
	}

	result := &provider.GenerateResult{
		Images:   images,
		Elapsed:  time.Since(started),
		Metadata: map[string]any{"model": model},
	}
	if req.Seed != nil {
		seed := *req.Seed
		result.Seed = &seed
	}

	a.logger.DebugContext(ctx, "gemini image generation complete",
		"model", model,
		"images", len(images),
		"elapsed", result.Elapsed)

	return result, nil
}

// NormalizeError classifies Gemini-specific failures before handing off to
// the baseline normalizer. Safety blocks surface as finish reasons on an
// otherwise successful response, so the baseline cannot see them, and an
// empty candidate list is a transient service condition rather than a bad
// request.
func (a *GeminiImageAdapter) NormalizeError(err error) *provider.NormalizedError {
	switch {
	case errors.Is(err, ErrContentBlocked):
		return &provider.NormalizedError{
			Category:  provider.CategoryContentFiltered,
			Message:   err.Error(),
			Retryable: false,
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
func (a *GeminiImageAdapter) DefaultOptions() provider.Options {
	return provider.Options{"number_of_images": 1}
}

// SupportsFeature reports whether the provider implements the feature.
// Negative prompts have no request field on this API and are not supported.
func (a *GeminiImageAdapter) SupportsFeature(feature provider.Feature) bool {
	switch feature {
	case provider.FeatureSeed, provider.FeatureBatch:
		return true
	default:
		return false
	}
}

// SupportedAspectRatios lists the aspect ratios the provider accepts.
func (a *GeminiImageAdapter) SupportedAspectRatios() []string {
	return append([]string(nil), supportedRatios...)
}

// invoke posts the payload and decodes the response into out. Non-2xx
// responses become an *APIError carrying the envelope fields. The key
// travels in a header so failed-request errors, which embed the full URL,
// never contain it.
func (a *GeminiImageAdapter) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini image: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gemini image: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini image: http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WarnContext(ctx, "error closing response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gemini image: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("gemini image: decode response: %w", err)
	}
	return nil
}

// collectImages walks the candidates, decoding inline payloads and
// downloading file references, until count images are gathered. It returns
// the images plus the safety block reason when the response carried one.
func (a *GeminiImageAdapter) collectImages(ctx context.Context, resp generateContentResponse, count int, aspectRatio string) ([]provider.GeneratedImage, string) {
	blockReason := ""
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		blockReason = resp.PromptFeedback.BlockReason
	}

	var images []provider.GeneratedImage
	for _, cand := range resp.Candidates {
		if blockedFinishReasons[cand.FinishReason] {
			blockReason = cand.FinishReason
			continue
		}
		for _, p := range cand.Content.Parts {
			img, err := a.decodePart(ctx, p)
			if err != nil {
				a.logger.WarnContext(ctx, "skipping undecodable image part", "error", err)
				continue
			}
			if len(img.Data) == 0 {
				continue
			}
			if img.Width == 0 || img.Height == 0 {
				img.Width, img.Height = imageDims(img.Data, aspectRatio)
			}
			images = append(images, img)
			if len(images) >= count {
				return images, blockReason
			}
		}
	}
	return images, blockReason
}

// decodePart extracts one image from a response part. Inline data is
// decoded in place; file references are fetched from the API.
func (a *GeminiImageAdapter) decodePart(ctx context.Context, p part) (provider.GeneratedImage, error) {
	if p.InlineData != nil && p.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return provider.GeneratedImage{}, fmt.Errorf("decode inline data: %w", err)
		}
		contentType := p.InlineData.MimeType
		if contentType == "" {
			contentType = "image/png"
		}
		return provider.GeneratedImage{Data: data, ContentType: contentType}, nil
	}

	if p.FileData != nil && p.FileData.FileURI != "" {
		data, contentType, err := a.downloadFile(ctx, p.FileData.FileURI)
		if err != nil {
			return provider.GeneratedImage{}, err
		}
		if p.FileData.MimeType != "" {
			contentType = p.FileData.MimeType
		}
		return provider.GeneratedImage{URL: p.FileData.FileURI, Data: data, ContentType: contentType}, nil
	}

	return provider.GeneratedImage{}, nil
}

// downloadFile fetches a file reference returned by the API. The API key is
// attached only for downloads from the API host; external hosts must not
// see it.
func (a *GeminiImageAdapter) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = a.baseURL + "/" + strings.TrimLeft(uri, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("gemini image: build download request: %w", err)
	}
	if sameHost(target, a.baseURL) {
		httpReq.Header.Set("x-goog-api-key", a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("gemini image: download file: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.WarnContext(ctx, "error closing download body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("gemini image: read file: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", decodeAPIError(resp.StatusCode, raw)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return raw, contentType, nil
}

// decodeAPIError builds an *APIError from a non-2xx body, tolerating bodies
// that are not the documented envelope.
func decodeAPIError(statusCode int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       envelope.Error.Code,
			Status:     envelope.Error.Status,
			Message:    envelope.Error.Message,
		}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

// buildPrompt appends the aspect ratio as a prompt hint; the endpoint has no
// structured field for it.
func buildPrompt(prompt, aspectRatio string) string {
	if ratio := strings.TrimSpace(aspectRatio); ratio != "" {
		return fmt.Sprintf("%s\nAspect ratio: %s", prompt, ratio)
	}
	return prompt
}

// imageCount resolves number_of_images from options, clamped to the
// per-call maximum.
func imageCount(opts provider.Options) int {
	count := 1
	if raw, ok := opts["number_of_images"]; ok {
		if n, ok := intOption(raw); ok {
			count = n
		}
	}
	if count < 1 {
		count = 1
	}
	if count > maxImagesPerCall {
		count = maxImagesPerCall
	}
	return count
}

// intOption reads an integer option value. Options that round-tripped
// through a JSON job payload arrive as float64.
func intOption(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// imageDims reads the dimensions from the payload, falling back to the
// model's documented output size for the requested aspect ratio.
func imageDims(data []byte, aspectRatio string) (int, int) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg.Width, cfg.Height
	}
	if dims, ok := ratioDims[strings.TrimSpace(aspectRatio)]; ok {
		return dims[0], dims[1]
	}
	return ratioDims["1:1"][0], ratioDims["1:1"][1]
}

// sameHost reports whether two URLs point at the same host.
func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}
