package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/prism-ai/prism/internal/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"config", MissingKeyError("openai"), KindConfiguration},
		{"unsupported", &UnsupportedFileError{Message: "no"}, KindUnsupported},
		{"not found", fmt.Errorf("%w: %q", ErrModelNotFound, "x"), KindResolution},
		{"inactive", fmt.Errorf("%w: %q", ErrModelInactive, "x"), KindResolution},
		{"rate limit error", &retry.RateLimitError{RetryAfter: time.Second, Err: errors.New("x")}, KindRateLimit},
		{"http 429", &HTTPError{Service: "s", StatusCode: 429}, KindRateLimit},
		{"http 503", &HTTPError{Service: "s", StatusCode: 503}, KindTransient},
		{"http 529", &HTTPError{Service: "s", StatusCode: 529}, KindTransient},
		{"http 401", &HTTPError{Service: "s", StatusCode: 401}, KindConfiguration},
		{"http 400", &HTTPError{Service: "s", StatusCode: 400}, KindProvider},
		{"text quota", errors.New("You exceeded your current quota"), KindRateLimit},
		{"text overloaded", errors.New("model is overloaded"), KindTransient},
		{"text safety", errors.New("response blocked by safety filters: SAFETY"), KindSafety},
		{"text key", errors.New("API key not valid. Please pass a valid API key."), KindConfiguration},
		{"unknown", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
		{"wrapped provider kind", &ProviderError{Model: "m", Kind: KindSafety, Err: errors.New("x")}, KindSafety},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err, nil))
		})
	}
}

func TestKindOfUsesClassifierBeforeStatus(t *testing.T) {
	classify := func(error) ErrorKind { return KindSafety }
	assert.Equal(t, KindSafety, KindOf(&HTTPError{StatusCode: 400}, classify))
	// Typed errors win over the classifier.
	assert.Equal(t, KindConfiguration, KindOf(MissingKeyError("x"), classify))
}

func TestClassifyGoogle(t *testing.T) {
	assert.Equal(t, KindRateLimit, classifyGoogle(genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}))
	assert.Equal(t, KindTransient, classifyGoogle(genai.APIError{Code: 503, Status: "UNAVAILABLE"}))
	assert.Equal(t, KindConfiguration, classifyGoogle(genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key."}))
	assert.Equal(t, KindProvider, classifyGoogle(genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}))
	assert.Equal(t, KindUnknown, classifyGoogle(errors.New("plain")))
}

func TestHTTPErrorMessage(t *testing.T) {
	err := &HTTPError{Service: "perplexity", StatusCode: 502}
	assert.Equal(t, "perplexity error 502: Bad Gateway", err.Error())
	assert.Equal(t, KindRateLimit.Retryable(), true)
	assert.False(t, KindConfiguration.Retryable())
}

func TestGuidanceForSurfacedKinds(t *testing.T) {
	for _, k := range []ErrorKind{KindConfiguration, KindResolution, KindUnsupported, KindRateLimit, KindTransient, KindSafety} {
		assert.NotEmpty(t, Guidance(k), k)
	}
	assert.Empty(t, Guidance(KindUnknown))
}

func TestKeyResolver(t *testing.T) {
	ctx, store := clientCtx(t)

	key, err := KeyResolver{GeminiKey: " g "}.Resolve(ctx, ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "g", key)

	_, err = KeyResolver{}.Resolve(ctx, ProviderGoogle)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), EnvGeminiKey)

	_, err = KeyResolver{}.Resolve(ctx, ProviderOpenAI)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "API key for openai not found. Please add it in Settings.", err.Error())

	require.NoError(t, store.Set(ctx, KeyName(ProviderOpenAI), "sk-1"))
	key, err = KeyResolver{}.Resolve(ctx, ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", key)
}

func TestKeyResolverProxyFallback(t *testing.T) {
	user := clientscope.ForUser(kvstore.NewMemory(), "u1", "u@example.com", "jwt")
	ctx := clientscope.With(context.Background(), user)

	key, err := KeyResolver{ProxyEnabled: true}.Resolve(ctx, ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = KeyResolver{ProxyEnabled: false}.Resolve(ctx, ProviderGoogle)
	assert.Error(t, err)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "text/plain", DetectMIME("text/plain; charset=utf-8", nil))
	assert.Equal(t, "application/pdf", DetectMIME("application/octet-stream", []byte("%PDF-1.7\n")))
	assert.Equal(t, "image/png", DetectMIME("", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
}
