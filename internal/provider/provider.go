// Package provider defines the uniform contract every image-generation
// provider adapter implements, the canonical error taxonomy with its
// normalizer, and the registry that maps model identifiers to adapters.
// It is the boundary between the orchestration core and the heterogeneous
// remote generation APIs; concrete adapters live under internal/platform.
package provider

import (
	"context"
	"time"
)

// Feature names a provider capability that planning and validation layers can
// introspect before dispatching work.
type Feature string

// Capabilities an adapter may support.
const (
	FeatureSeed           Feature = "seed"
	FeatureNegativePrompt Feature = "negative_prompt"
	FeatureBatch          Feature = "batch"
	FeatureInpainting     Feature = "inpainting"
)

// Options carries provider-specific knobs that pass through the contract
// opaquely, e.g. sampler settings or quality presets.
type Options map[string]any

// GenerateRequest is the normalized input for one generation call.
type GenerateRequest struct {
	// Model is the provider-side model identifier, as registered.
	Model string `json:"model"`

	// Prompt is the final, style-merged prompt text.
	Prompt string `json:"prompt"`

	// NegativePrompt is optional; adapters for providers without negative
	// prompt support ignore it.
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// AspectRatio such as "1:1" or "16:9". Adapters translate it to the
	// provider's size vocabulary.
	AspectRatio string `json:"aspect_ratio"`

	// Seed requests deterministic output where supported.
	Seed *int64 `json:"seed,omitempty"`

	// Options are provider-specific extras merged over DefaultOptions.
	Options Options `json:"options,omitempty"`
}

// GeneratedImage is one produced image. Providers that host results populate
// URL; providers that return payloads inline populate Data, and the caller
// decides where the bytes end up.
type GeneratedImage struct {
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// GenerateResult is the normalized output of one successful generation call.
type GenerateResult struct {
	Images   []GeneratedImage `json:"images"`
	Seed     *int64           `json:"seed,omitempty"`
	Elapsed  time.Duration    `json:"elapsed,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Adapter is the uniform interface wrapping one provider's generation API.
// Generate fails with a provider-specific error value; translating that into
// the canonical taxonomy is NormalizeError's job, kept separate so callers
// control when classification happens.
type Adapter interface {
	// Provider returns the rate-limiter key shared by every model this
	// adapter serves.
	Provider() string

	// Generate performs one generation call. The returned error is the raw,
	// provider-specific failure; it has not been normalized.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// NormalizeError maps a raw failure from Generate into the canonical
	// taxonomy, applying provider-specific signals before falling back to
	// the shared baseline normalizer.
	NormalizeError(err error) *NormalizedError

	// DefaultOptions returns the provider-specific options applied when a
	// request carries none.
	DefaultOptions() Options

	// SupportsFeature reports whether the provider implements the feature.
	SupportsFeature(feature Feature) bool

	// SupportedAspectRatios lists the aspect ratios the provider accepts.
	SupportedAspectRatios() []string
}
