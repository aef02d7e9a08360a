package dashscope

import (
	"encoding/json"
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

func newTestAdapter(t *testing.T, serverURL string) *DashScopeAdapter {
	t.Helper()
	adapter, err := NewDashScopeAdapter(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: serverURL,
	}, nil, testLogger())
	require.NoError(t, err)
	return adapter
}

// successBody builds the hosted-URL response shape the API returns.
func successBody(imageURL string, width, height int, requestID string) map[string]any {
	return map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{
							map[string]any{"image": imageURL},
						},
					},
				},
			},
		},
		"usage":      map[string]any{"width": width, "height": height},
		"request_id": requestID,
	}
}

func TestNewDashScopeAdapter(t *testing.T) {
	t.Run("requires a logger", func(t *testing.T) {
		adapter, err := NewDashScopeAdapter(config.ProviderConfig{APIKey: "k"}, nil, nil)
		assert.Nil(t, adapter)
		assert.EqualError(t, err, "logger cannot be nil")
	})

	t.Run("requires an api key", func(t *testing.T) {
		adapter, err := NewDashScopeAdapter(config.ProviderConfig{}, nil, testLogger())
		assert.Nil(t, adapter)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("applies defaults", func(t *testing.T) {
		adapter, err := NewDashScopeAdapter(config.ProviderConfig{APIKey: "k"}, nil, testLogger())
		require.NoError(t, err)
		assert.Equal(t, defaultBaseURL, adapter.baseURL)
		assert.Equal(t, defaultModel, adapter.model)
	})
}

func TestGenerate_Success(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotBody   generationRequest
		decodeErr error
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		decodeErr = json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(successBody("https://cdn.example.com/out/img-1.png", 1664, 928, "req-123"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	seed := int64(77)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Prompt:         "a lighthouse at dusk, golden hour",
		NegativePrompt: "blurry, oversaturated",
		AspectRatio:    "16:9",
		Seed:           &seed,
	})
	require.NoError(t, err)
	require.NoError(t, decodeErr)

	assert.Equal(t, "/services/aigc/multimodal-generation/generation", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)

	assert.Equal(t, "qwen-image", gotBody.Model)
	require.Len(t, gotBody.Input.Messages, 1)
	assert.Equal(t, "user", gotBody.Input.Messages[0].Role)
	require.Len(t, gotBody.Input.Messages[0].Content, 1)
	assert.Equal(t, "a lighthouse at dusk, golden hour", gotBody.Input.Messages[0].Content[0].Text)
	assert.Equal(t, "blurry, oversaturated", gotBody.Parameters.NegativePrompt)
	assert.Equal(t, "1664*928", gotBody.Parameters.Size)
	require.NotNil(t, gotBody.Parameters.Seed)
	assert.Equal(t, int64(77), *gotBody.Parameters.Seed)
	require.NotNil(t, gotBody.Parameters.PromptExtend)
	assert.True(t, *gotBody.Parameters.PromptExtend)
	require.NotNil(t, gotBody.Parameters.Watermark)
	assert.False(t, *gotBody.Parameters.Watermark)

	require.Len(t, result.Images, 1)
	img := result.Images[0]
	assert.Equal(t, "https://cdn.example.com/out/img-1.png", img.URL)
	assert.Empty(t, img.Data, "hosted results are mirrored downstream, not downloaded here")
	assert.Equal(t, 1664, img.Width)
	assert.Equal(t, 928, img.Height)
	assert.Equal(t, "image/png", img.ContentType)

	require.NotNil(t, result.Seed)
	assert.Equal(t, int64(77), *result.Seed)
	assert.Equal(t, "req-123", result.Metadata["request_id"])
}

func TestGenerate_OptionsOverrideDefaults(t *testing.T) {
	var gotBody generationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(successBody("https://cdn.example.com/a.jpg", 1328, 1328, "req-1"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	result, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Prompt: "a fox",
		Options: provider.Options{
			"prompt_extend": false,
			"watermark":     true,
		},
	})
	require.NoError(t, err)

	require.NotNil(t, gotBody.Parameters.PromptExtend)
	assert.False(t, *gotBody.Parameters.PromptExtend)
	require.NotNil(t, gotBody.Parameters.Watermark)
	assert.True(t, *gotBody.Parameters.Watermark)
	assert.Equal(t, "image/jpeg", result.Images[0].ContentType)
}

func TestGenerate_UnknownRatioFallsBack(t *testing.T) {
	var gotBody generationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(successBody("https://cdn.example.com/a.png", 1328, 1328, "req-1"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{
		Prompt:      "a fox",
		AspectRatio: "21:9",
	})
	require.NoError(t, err)
	assert.Equal(t, defaultSize, gotBody.Parameters.Size)
}

func TestGenerate_BusinessErrorInOKResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code":       "DataInspectionFailed",
			"message":    "Output data may contain inappropriate content.",
			"request_id": "req-500",
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode, "business errors in a 200 body have no http status")
	assert.Equal(t, "DataInspectionFailed", apiErr.Code)
	assert.Equal(t, "req-500", apiErr.RequestID)

	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryContentFiltered, ne.Category)
	assert.False(t, ne.Retryable)
	assert.Equal(t, "DataInspectionFailed", ne.ProviderCode)
}

func TestGenerate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"code":       "Throttling.RateQuota",
			"message":    "Requests rate limit exceeded, please try again later.",
			"request_id": "req-429",
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
	assert.Equal(t, "Throttling.RateQuota", apiErr.ProviderCode())

	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryRateLimited, ne.Category)
	assert.True(t, ne.Retryable)
	assert.Equal(t, "Throttling.RateQuota", ne.ProviderCode)
}

func TestGenerate_PlainBodyHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)

	ne := adapter.NormalizeError(err)
	assert.Equal(t, provider.CategoryNetworkError, ne.Category)
	assert.True(t, ne.Retryable)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"output":     map[string]any{"choices": []any{}},
			"request_id": "req-9",
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server.URL)
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: "a fox"})
	require.ErrorIs(t, err, provider.ErrNoImagesReturned)

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
	_, err := adapter.Generate(t.Context(), provider.GenerateRequest{Prompt: " "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Zero(t, calls, "validation failures must not reach the API")
}

func TestAdapterContract(t *testing.T) {
	adapter, err := NewDashScopeAdapter(config.ProviderConfig{APIKey: "k"}, nil, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "dashscope", adapter.Provider())
	assert.Equal(t, provider.Options{"prompt_extend": true, "watermark": false}, adapter.DefaultOptions())
	assert.Equal(t, []string{"1:1", "16:9", "9:16", "4:3", "3:4"}, adapter.SupportedAspectRatios())

	assert.True(t, adapter.SupportsFeature(provider.FeatureSeed))
	assert.True(t, adapter.SupportsFeature(provider.FeatureNegativePrompt))
	assert.False(t, adapter.SupportsFeature(provider.FeatureBatch))
	assert.False(t, adapter.SupportsFeature(provider.FeatureInpainting))
}

func TestContentTypeFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/a.png", "image/png"},
		{"https://cdn.example.com/a.jpg?Expires=123&Signature=abc", "image/jpeg"},
		{"https://cdn.example.com/a.JPEG", "image/jpeg"},
		{"https://cdn.example.com/a.webp", "image/webp"},
		{"https://cdn.example.com/a", "image/png"},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, contentTypeFromURL(tc.url))
		})
	}
}
