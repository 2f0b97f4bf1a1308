package ai

import (
	"context"
	"strings"

	"github.com/prism-ai/prism/internal/pkg/clientscope"
)

// EnvGeminiKey is the variable operators set for the first-party Gemini key.
const EnvGeminiKey = "VITE_GEMINI_API_KEY"

// KeyName is the client-scoped storage key holding a provider's API key.
func KeyName(providerID string) string {
	return strings.ToUpper(providerID) + "_API_KEY"
}

// KeyResolver finds the credential for a provider.
type KeyResolver struct {
	// GeminiKey is the environment-level key for Google.
	GeminiKey string
	// ProxyEnabled lets signed-in users reach Google through the edge proxy
	// without a local key.
	ProxyEnabled bool
}

// Resolve returns the API key for providerID. Google uses the configured key;
// every other provider reads the caller's own key from their scope.
func (k KeyResolver) Resolve(ctx context.Context, providerID string) (string, error) {
	scope, hasScope := clientscope.From(ctx)

	if providerID == ProviderGoogle {
		if key := strings.TrimSpace(k.GeminiKey); key != "" {
			return key, nil
		}
		if k.ProxyEnabled && hasScope && scope.AccessToken != "" {
			return "", nil
		}
		return "", &ConfigError{
			Provider: ProviderGoogle,
			Message:  "Gemini API key is not configured. Set " + EnvGeminiKey + " in the environment.",
		}
	}

	if !hasScope || scope.Store == nil {
		return "", MissingKeyError(providerID)
	}
	key, ok, err := scope.Store.Get(ctx, KeyName(providerID))
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", MissingKeyError(providerID)
	}
	return key, nil
}
