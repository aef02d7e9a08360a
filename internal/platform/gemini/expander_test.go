package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easelhq/easel-api/internal/config"
	"github.com/easelhq/easel-api/internal/generation"
)

// newTestExpander builds an expander with the model call stubbed out and
// retry sleeps replaced by an instant no-op.
func newTestExpander(t *testing.T, generate func(ctx context.Context, prompt string, useWebSearch bool) (string, error)) *GeminiExpander {
	t.Helper()

	return &GeminiExpander{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg: config.GeminiConfig{
			APIKey:            "test-key",
			ModelName:         "gemini-2.5-flash",
			MaxRetries:        2,
			RetryDelaySeconds: 1,
		},
		promptTemplate: template.Must(template.New("expansion").Parse(expansionPromptTemplate)),
		model:          "gemini-2.5-flash",
		generate:       generate,
		sleep: func(ctx context.Context, d time.Duration) error {
			return ctx.Err()
		},
	}
}

const threeVariantResponse = `[
	{"name": "Golden Hour", "prompt": "a lighthouse at dusk, golden hour light, long shadows"},
	{"name": "Storm Warning", "prompt": "a lighthouse in a storm, crashing waves, dramatic sky"},
	{"name": "Minimal Lines", "prompt": "a minimalist lighthouse, flat colors, geometric composition"}
]`

func TestNewGeminiExpander(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("nil logger is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewGeminiExpander(ctx, nil, config.GeminiConfig{APIKey: "k", ModelName: "m"})
		assert.ErrorContains(t, err, "logger cannot be nil")
	})

	t.Run("empty API key is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewGeminiExpander(ctx, logger, config.GeminiConfig{ModelName: "m"})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("empty model name is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := NewGeminiExpander(ctx, logger, config.GeminiConfig{APIKey: "k"})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("valid config builds a ready expander", func(t *testing.T) {
		t.Parallel()
		expander, err := NewGeminiExpander(ctx, logger, config.GeminiConfig{
			APIKey:    "test-key",
			ModelName: "gemini-2.5-flash",
		})
		require.NoError(t, err)
		require.NotNil(t, expander)
		assert.Equal(t, "gemini-2.5-flash", expander.model)
		assert.NotNil(t, expander.client)
		assert.NotNil(t, expander.generate)
	})
}

func TestExpandPrompts_Success(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		gotPrompt = prompt
		return threeVariantResponse, nil
	})

	variants, err := expander.ExpandPrompts(context.Background(), "a lighthouse at dusk", 3, false)
	require.NoError(t, err)
	require.Len(t, variants, 3)

	assert.Contains(t, gotPrompt, "a lighthouse at dusk", "prompt should carry the subject")
	assert.Contains(t, gotPrompt, "exactly 3", "prompt should carry the variant count")

	assert.Equal(t, "v1", variants[0].ID)
	assert.Equal(t, "v2", variants[1].ID)
	assert.Equal(t, "v3", variants[2].ID)
	assert.Equal(t, "Golden Hour", variants[0].Name)
	assert.Equal(t, "golden-hour", variants[0].Slug)
	assert.Equal(t, "a lighthouse at dusk", variants[0].OriginalText)
	assert.Equal(t, "a lighthouse at dusk, golden hour light, long shadows", variants[0].ExpandedText)
}

func TestExpandPrompts_StripsCodeFences(t *testing.T) {
	t.Parallel()

	fenced := "```json\n" + threeVariantResponse + "\n```"
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		return fenced, nil
	})

	variants, err := expander.ExpandPrompts(context.Background(), "a lighthouse at dusk", 3, false)
	require.NoError(t, err)
	assert.Len(t, variants, 3)
}

func TestExpandPrompts_InputValidation(t *testing.T) {
	t.Parallel()

	calls := 0
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		calls++
		return threeVariantResponse, nil
	})

	t.Run("empty subject", func(t *testing.T) {
		_, err := expander.ExpandPrompts(context.Background(), "   ", 3, false)
		assert.ErrorIs(t, err, ErrEmptySubject)
	})

	t.Run("non-positive count", func(t *testing.T) {
		_, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 0, false)
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	assert.Zero(t, calls, "validation failures must not reach the model")
}

func TestExpandPrompts_WebSearchFlagReachesCall(t *testing.T) {
	t.Parallel()

	var gotWebSearch bool
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		gotWebSearch = useWebSearch
		return threeVariantResponse, nil
	})

	_, err := expander.ExpandPrompts(context.Background(), "the latest flagship phone", 3, true)
	require.NoError(t, err)
	assert.True(t, gotWebSearch)
}

func TestExpandPrompts_MalformedResponse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		response string
	}{
		{name: "not JSON", response: "here are some ideas: 1) dusk 2) storm"},
		{name: "empty array", response: "[]"},
		{name: "variant missing prompt", response: `[{"name": "Golden Hour", "prompt": ""}]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
				calls++
				return tc.response, nil
			})

			_, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 3, false)
			assert.ErrorIs(t, err, generation.ErrInvalidResponse)
			assert.Equal(t, 1, calls, "parse failures must not retry the model call")
		})
	}
}

func TestExpandPrompts_FillsMissingNames(t *testing.T) {
	t.Parallel()

	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		return `[{"prompt": "a lighthouse at dawn, mist rolling in"}]`, nil
	})

	variants, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 1, false)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "Variant 1", variants[0].Name)
	assert.Equal(t, "variant-1", variants[0].Slug)
}

func TestExpandPrompts_TrimsOverDelivery(t *testing.T) {
	t.Parallel()

	var entries []string
	for i := 0; i < 5; i++ {
		entries = append(entries, fmt.Sprintf(`{"name": "Variant %d", "prompt": "prompt %d"}`, i+1, i+1))
	}
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		return "[" + strings.Join(entries, ",") + "]", nil
	})

	variants, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 3, false)
	require.NoError(t, err)
	assert.Len(t, variants, 3)
}

func TestExpandPrompts_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("rpc error: unavailable")
		}
		return threeVariantResponse, nil
	})

	var delays []time.Duration
	expander.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	variants, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 3, false)
	require.NoError(t, err)
	assert.Len(t, variants, 3)
	assert.Equal(t, 3, calls)

	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.Positive(t, d)
	}
}

func TestExpandPrompts_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		calls++
		return "", errors.New("rpc error: unavailable")
	})
	expander.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 3, false)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.Equal(t, 3, calls, "MaxRetries 2 means three attempts total")
}

func TestExpandPrompts_PermanentErrorsShortCircuit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
	}{
		{name: "content blocked", err: fmt.Errorf("%w: safety", generation.ErrContentBlocked)},
		{name: "invalid response", err: fmt.Errorf("%w: empty", generation.ErrInvalidResponse)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
				calls++
				return "", tc.err
			})

			_, err := expander.ExpandPrompts(context.Background(), "a lighthouse", 3, false)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestExpandPrompts_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	expander := newTestExpander(t, func(ctx context.Context, prompt string, useWebSearch bool) (string, error) {
		cancel()
		return "", errors.New("rpc error: unavailable")
	})
	expander.sleep = sleepContext

	_, err := expander.ExpandPrompts(ctx, "a lighthouse", 3, false)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)
	assert.ErrorContains(t, err, "context canceled")
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: `[{"a":1}]`, want: `[{"a":1}]`},
		{name: "json fence", in: "```json\n[1,2]\n```", want: "[1,2]"},
		{name: "bare fence", in: "```\n[1,2]\n```", want: "[1,2]"},
		{name: "surrounding whitespace", in: "  \n```json\n[1]\n```\n  ", want: "[1]"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, stripCodeFence(tc.in))
		})
	}
}
