package geminiimage

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAdapter builds an adapter pointed at the given server.
func newTestAdapter(t *testing.T, serverURL string) *GeminiImageAdapter {
	t.Helper()
	adapter, err := NewGeminiImageAdapter(config.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: serverURL,
	}, nil, testLogger())
	require.NoError(t, err)
	return adapter
}

func inlinePNG(data []byte) map[string]any {
	return map[string]any{
		"inlineData": map[string]any{
			"mimeType": "image/png",
			"data":     base64.StdEncoding.EncodeToString(data),
		},
	}
}

func candidateWithParts(parts ...map[string]any) map[string]any {
	return map[string]any{
		"content": map[string]any{"parts": parts},
	}
}

func TestNewGeminiImageAdapter(t *testing.T) {
	t.Run("requires a logger", func(t *testing.T) {
		adapter, err := NewGeminiImageAdapter(config.ProviderConfig{APIKey: "k"}, nil, nil)
		assert.Nil(t, adapter)
		assert.EqualError(t, err, "logger cannot be nil")
	})

	t.Run("requires an api key", func(t *testing.T) {
		adapter, err := NewGeminiImageAdapter(config.ProviderConfig{APIKey: "   "}, nil, testLogger())
		assert.Nil(t, adapter)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("applies defaults", func(t *testing.T) {
		adapter, err := NewGeminiImageAdapter(config.ProviderConfig{APIKey: "k"}, nil, testLogger())
		require.NoError(t, err)
		assert.Equal(t, defaultBaseURL, adapter.baseURL)
		assert.Equal(t, defaultModel, adapter.model)
		assert.NotNil(t, adapter.httpClient)
	})

	t.Run("honors overrides", func(t *testing.T) {
		adapter, err := NewGeminiImageAdapter(config.ProviderConfig{
			APIKey:  "k",
			BaseURL: "https://example.test/v1beta/",
			Model:   "gemini-3-image",
		}, nil, testLogger())
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/v1beta", adapter.baseURL)
		assert.Equal(t, "gemini-3-image", adapter.model)
	})
}

func TestGenerate_InlineImages(t *testing.T) {
	imageBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

	var (
		gotPath   string
		gotMethod string
		gotKey    string
		gotBody   generateContentRequest
		decodeErr error
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotKey = r.Header.Get("x-goog-api-key")
		decodeErr = json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				candidateWithParts(inlinePNG(imageBytes), inlinePNG(imageBytes)),
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	seed := int64(42)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Prompt:      "a lighthouse at dusk",
		AspectRatio: "16:9",
		Seed:        &seed,
		Options:     provider.Options{"number_of_images": 2},
	})
	require.NoError(t, err)
	require.NoError(t, decodeErr)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/models/gemini-2.5-flash-image:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	require.Len(t, gotBody.Contents, 1)
	require.Len(t, gotBody.Contents[0].Parts, 1)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "a lighthouse at dusk")
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "Aspect ratio: 16:9")
	require.Len(t, gotBody.Tools, 1)
	assert.NotNil(t, gotBody.Tools[0].ImageGeneration)
	require.NotNil(t, gotBody.ToolConfig)
	assert.Equal(t, 2, gotBody.ToolConfig.ImageGenerationConfig.NumberOfImages)
	require.NotNil(t, gotBody.GenerationConfig)
	require.NotNil(t, gotBody.GenerationConfig.Seed)
	assert.Equal(t, int64(42), *gotBody.GenerationConfig.Seed)

	require.Len(t, result.Images, 2)
	assert.Equal(t, imageBytes, result.Images[0].Data)
	assert.Equal(t, "image/png", result.Images[0].ContentType)
	// The payload is not a decodable image, so dimensions come from the
	// aspect ratio table.
	assert.Equal(t, 1344, result.Images[0].Width)
	assert.Equal(t, 768, result.Images[0].Height)

	require.NotNil(t, result.Seed)
	assert.Equal(t, int64(42), *result.Seed)
	assert.Equal(t, "gemini-2.5-flash-image", result.Metadata["model"])
}

func TestGenerate_UsesRequestModel(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{candidateWithParts(inlinePNG([]byte{1}))},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Model:  "gemini-image-staging",
		Prompt: "a fox",
	})
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-image-staging:generateContent", gotPath)
}

func TestGenerate_DownloadsFileReference(t *testing.T) {
	imageBytes := []byte{0xff, 0xd8, 0xff}

	var downloadKey string
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("POST /models/gemini-2.5-flash-image:generateContent", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				candidateWithParts(map[string]any{
					"fileData": map[string]any{
						"mimeType": "image/jpeg",
						"fileUri":  server.URL + "/files/abc123",
					},
				}),
			},
		})
	})
	mux.HandleFunc("GET /files/abc123", func(w http.ResponseWriter, r *http.Request) {
		downloadKey = r.Header.Get("x-goog-api-key")
		w.Header().Set("Content-Type", "image/png")
		w.Write(imageBytes)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.NoError(t, err)

	// Downloads from the API host carry the key.
	assert.Equal(t, "test-key", downloadKey)

	require.Len(t, result.Images, 1)
	assert.Equal(t, imageBytes, result.Images[0].Data)
	assert.Equal(t, server.URL+"/files/abc123", result.Images[0].URL)
	// The part's declared mime type wins over the download header.
	assert.Equal(t, "image/jpeg", result.Images[0].ContentType)
}

func TestGenerate_ExternalHostNeverSeesKey(t *testing.T) {
	var externalKey string
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalKey = r.Header.Get("x-goog-api-key")
		w.Write([]byte{1, 2, 3})
	}))
	defer external.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				candidateWithParts(map[string]any{
					"fileData": map[string]any{"fileUri": external.URL + "/image.png"},
				}),
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.NoError(t, err)
	require.Len(t, result.Images, 1)
	assert.Empty(t, externalKey, "api key must not be sent to hosts outside the API")
}

func TestGenerate_SafetyBlock(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "finish reason on the candidate",
			body: map[string]any{
				"candidates": []any{
					map[string]any{"finishReason": "IMAGE_SAFETY"},
				},
			},
		},
		{
			name: "prompt feedback block",
			body: map[string]any{
				"promptFeedback": map[string]any{"blockReason": "PROHIBITED_CONTENT"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tc.body)
			}))
			defer server.Close()

			adapter := newTestAdapter(t, server.URL)
			result, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "something dodgy"})
			assert.Nil(t, result)
			require.ErrorIs(t, err, ErrContentBlocked)

			ne := adapter.NormalizeError(err)
			assert.Equal(t, provider.CategoryContentFiltered, ne.Category)
			assert.False(t, ne.Retryable)
		})
	}
}

func TestGenerate_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	assert.Nil(t, result)
	require.ErrorIs(t, err, provider.ErrNoImagesReturned)

	// An empty response is a transient provider condition, not bad input.
	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryProviderError, ne.Category)
	assert.True(t, ne.Retryable)
}

func TestGenerate_APIErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    429,
				"message": "Resource has been exhausted (e.g. check quota).",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.ProviderCode())

	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryRateLimited, ne.Category)
	assert.True(t, ne.Retryable)
	assert.Equal(t, "RESOURCE_EXHAUSTED", ne.ProviderCode)
}

func TestGenerate_PlainTextErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream overload"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "upstream overload", apiErr.Message)

	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryProviderError, ne.Category)
	assert.True(t, ne.Retryable)
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "   "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Zero(t, calls, "validation failures must not reach the API")
}

func TestGenerate_CapsImagesAtRequestedCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				candidateWithParts(
					inlinePNG([]byte{1}),
					inlinePNG([]byte{2}),
					inlinePNG([]byte{3}),
				),
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Prompt:  "a fox",
		Options: provider.Options{"number_of_images": 2},
	})
	require.NoError(t, err)
	assert.Len(t, result.Images, 2)
}

func TestAdapterContract(t *testing.T) {
	adapter, err := NewGeminiImageAdapter(config.ProviderConfig{APIKey: "k"}, nil, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "gemini", adapter.Provider())
	assert.Equal(t, provider.Options{"number_of_images": 1}, adapter.DefaultOptions())
	assert.Equal(t, []string{"1:1", "16:9", "9:16", "4:3", "3:4"}, adapter.SupportedAspectRatios())

	assert.True(t, adapter.SupportsFeature(provider.FeatureSeed))
	assert.True(t, adapter.SupportsFeature(provider.FeatureBatch))
	assert.False(t, adapter.SupportsFeature(provider.FeatureNegativePrompt))
	assert.False(t, adapter.SupportsFeature(provider.FeatureInpainting))
}

func TestNormalizeError_FallsBackToBaseline(t *testing.T) {
	adapter, err := NewGeminiImageAdapter(config.ProviderConfig{APIKey: "k"}, nil, testLogger())
	require.NoError(t, err)

	ne := adapter.NormalizeError(errors.New("connection reset by peer"))
	assert.Equal(t, provider.CategoryNetworkError, ne.Category)
	assert.True(t, ne.Retryable)
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		name string
		opts provider.Options
		want int
	}{
		{"nil options", nil, 1},
		{"explicit int", provider.Options{"number_of_images": 3}, 3},
		{"json round-tripped float", provider.Options{"number_of_images": float64(2)}, 2},
		{"clamped to max", provider.Options{"number_of_images": 99}, maxImagesPerCall},
		{"clamped to min", provider.Options{"number_of_images": 0}, 1},
		{"unparseable value", provider.Options{"number_of_images": "two"}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, imageCount(tc.opts))
		})
	}
}
