package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"text/template"
	"time"

	"google.golang.org/genai"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/domain"
	"github.com/easelhq/easel-api/internal/generation"
)

// Fallbacks applied when the configured retry values are unusable.
const (
	defaultMaxRetries        = 3
	defaultRetryDelaySeconds = 2
)

// expansionPromptTemplate is the instruction rendered with the task's subject
// and requested variant count. The response contract (a bare JSON array) is
// part of the prompt because search grounding cannot be combined with a JSON
// response MIME type.
const expansionPromptTemplate = `You are an art director preparing prompts for an AI image generator.

Expand the subject below into exactly {{.Count}} distinct prompt variants.
Each variant must interpret the subject differently (composition, mood,
setting, or concept) while staying faithful to it. Each prompt must be
self-contained and specific enough to generate an image on its own.

Subject: {{.Subject}}

Respond with a JSON array only, no prose, using this shape:
[{"name": "short descriptive name", "prompt": "complete image prompt"}]`

// GeminiExpander implements the generation.PromptExpander interface using
// Google's Gemini API to expand a creative subject into prompt variants.
type GeminiExpander struct {
	// logger is used for structured logging
	logger *slog.Logger

	// cfg contains LLM-specific configuration
	cfg config.GeminiConfig

	// promptTemplate is the parsed template for creating expansion prompts
	promptTemplate *template.Template

	// client is the Gemini API client for making requests
	client *genai.Client

	// model is the name of the Gemini model to use
	model string

	// generate performs one model call; replaceable in tests.
	generate func(ctx context.Context, prompt string, useWebSearch bool) (string, error)

	// sleep waits between retry attempts; replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Ensure GeminiExpander implements generation.PromptExpander
var _ generation.PromptExpander = (*GeminiExpander)(nil)

// NewGeminiExpander creates a new instance of GeminiExpander with the
// provided dependencies.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - logger: A structured logger for operation logging
//   - cfg: LLM configuration containing API key, model name, and retry settings
//
// Returns:
//   - A properly initialized GeminiExpander or an error if initialization fails
func NewGeminiExpander(ctx context.Context, logger *slog.Logger, cfg config.GeminiConfig) (*GeminiExpander, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	expander := &GeminiExpander{
		logger:         logger,
		cfg:            cfg,
		promptTemplate: template.Must(template.New("expansion").Parse(expansionPromptTemplate)),
		client:         client,
		model:          cfg.ModelName,
		sleep:          sleepContext,
	}
	expander.generate = expander.callModel

	return expander, nil
}

// ExpandPrompts produces count prompt variants for the given subject.
//
// Parameters:
//   - ctx: Context for the operation, which can be used for cancellation
//   - subject: The user's original creative subject
//   - count: How many variants to produce
//   - useWebSearch: Whether to ground the expansion in current web results
//
// Returns:
//   - A slice of domain.PromptVariant values in response order
//   - An error from the generation package's taxonomy if expansion fails
func (e *GeminiExpander) ExpandPrompts(
	ctx context.Context,
	subject string,
	count int,
	useWebSearch bool,
) ([]domain.PromptVariant, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, ErrEmptySubject
	}

	if count < 1 {
		return nil, fmt.Errorf("%w: variant count must be at least 1, got %d",
			generation.ErrInvalidConfig, count)
	}

	prompt, err := e.buildPrompt(ctx, subject, count)
	if err != nil {
		return nil, err
	}

	text, err := e.callWithRetry(ctx, prompt, useWebSearch)
	if err != nil {
		return nil, err
	}

	variants, err := e.parseVariants(text, subject, count)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "prompt expansion complete",
		"requested", count,
		"produced", len(variants),
		"web_search", useWebSearch)

	return variants, nil
}

// buildPrompt renders the expansion instruction from the template with the
// provided subject and variant count.
func (e *GeminiExpander) buildPrompt(ctx context.Context, subject string, count int) (string, error) {
	data := promptData{
		Subject: subject,
		Count:   count,
	}

	e.logger.DebugContext(ctx, "building expansion prompt",
		"subject_length", len(subject),
		"variant_count", count)

	var promptBuffer bytes.Buffer
	if err := e.promptTemplate.Execute(&promptBuffer, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	return promptBuffer.String(), nil
}

// callWithRetry makes a call to the Gemini API with exponential backoff retry
// logic.
//
// It attempts the call up to cfg.MaxRetries+1 times, using exponential backoff
// with jitter between attempts for transient errors. Permanent errors (content
// blocked by safety filters, malformed responses) are returned immediately
// without retrying.
func (e *GeminiExpander) callWithRetry(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
	maxRetries := e.cfg.MaxRetries
	baseDelaySeconds := e.cfg.RetryDelaySeconds
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	if maxRetries < 0 {
		e.logger.WarnContext(ctx, "invalid max retries value, using default",
			"max_retries", defaultMaxRetries)
		maxRetries = defaultMaxRetries
	}

	if baseDelaySeconds < 1 {
		e.logger.WarnContext(ctx, "invalid retry delay value, using default",
			"base_delay_seconds", defaultRetryDelaySeconds)
		baseDelaySeconds = defaultRetryDelaySeconds
	}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1 // For logging (1-based)
		e.logger.InfoContext(ctx, "calling Gemini for prompt expansion",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		text, err := e.generate(ctx, prompt, useWebSearch)
		if err == nil {
			e.logger.InfoContext(ctx, "Gemini expansion call succeeded",
				"attempt", attemptNum)
			return text, nil
		}

		e.logger.ErrorContext(ctx, "Gemini expansion call failed",
			"attempt", attemptNum,
			"error", err)

		// Permanent errors short-circuit; everything else is assumed
		// transient, matching how opaque transport failures present.
		if errors.Is(err, generation.ErrContentBlocked) || errors.Is(err, generation.ErrInvalidResponse) {
			e.logger.WarnContext(ctx, "permanent expansion error, not retrying",
				"error", err)
			return "", err
		}

		if attempt >= maxRetries {
			e.logger.WarnContext(ctx, "maximum expansion retries reached",
				"max_retries", maxRetries)
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, maxRetries, err)
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		backoffSeconds := float64(baseDelaySeconds) * math.Pow(2, float64(attempt))
		jitterFactor := 0.5 + rng.Float64()*0.5
		delay := time.Duration(backoffSeconds * jitterFactor * float64(time.Second))

		e.logger.InfoContext(ctx, "retrying expansion after delay",
			"attempt", attemptNum,
			"delay", delay.String())

		if err := e.sleep(ctx, delay); err != nil {
			e.logger.WarnContext(ctx, "expansion cancelled during retry delay",
				"attempt", attemptNum,
				"ctx_err", err)
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
	}
}

// callModel performs one GenerateContent call and extracts the response text.
func (e *GeminiExpander) callModel(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	var genCfg *genai.GenerateContentConfig
	if useWebSearch {
		genCfg = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, genCfg)
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: expansion blocked by safety filters", generation.ErrContentBlocked)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response text", generation.ErrInvalidResponse)
	}

	return text, nil
}

// parseVariants converts the model's JSON response into domain.PromptVariant
// values, assigning stable IDs and filename-safe slugs.
//
// The model occasionally over-delivers; extra variants beyond count are
// dropped. Under-delivery is accepted as-is because the task recomputes its
// expected totals from the variants actually produced.
func (e *GeminiExpander) parseVariants(text, subject string, count int) ([]domain.PromptVariant, error) {
	cleaned := stripCodeFence(text)

	var schemas []variantSchema
	if err := json.Unmarshal([]byte(cleaned), &schemas); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v",
			generation.ErrInvalidResponse, err)
	}

	if len(schemas) == 0 {
		return nil, fmt.Errorf("%w: no variants in response", generation.ErrInvalidResponse)
	}

	if len(schemas) > count {
		schemas = schemas[:count]
	}

	variants := make([]domain.PromptVariant, 0, len(schemas))
	for i, schema := range schemas {
		expanded := strings.TrimSpace(schema.Prompt)
		if expanded == "" {
			return nil, fmt.Errorf("%w: variant %d missing prompt", generation.ErrInvalidResponse, i)
		}

		name := strings.TrimSpace(schema.Name)
		if name == "" {
			name = fmt.Sprintf("Variant %d", i+1)
		}

		variants = append(variants, domain.PromptVariant{
			ID:           fmt.Sprintf("v%d", i+1),
			Name:         name,
			OriginalText: subject,
			ExpandedText: expanded,
			Slug:         domain.Slugify(name),
		})
	}

	return variants, nil
}

// stripCodeFence removes a surrounding markdown code fence, which the model
// sometimes adds despite the bare-JSON instruction.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}

	return strings.TrimSpace(trimmed)
}

// sleepContext waits for the duration or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
