package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prism-ai/prism/internal/pkg/retry"
)

// ErrorKind is the coarse failure category surfaced to clients.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindResolution    ErrorKind = "resolution"
	KindUnsupported   ErrorKind = "unsupported_file"
	KindRateLimit     ErrorKind = "rate_limit"
	KindTransient     ErrorKind = "transient"
	KindProvider      ErrorKind = "provider"
	KindSafety        ErrorKind = "safety"
	KindUnknown       ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind is worth another attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimit || k == KindTransient
}

var ErrEmptyAnalysis = errors.New("empty analysis returned by the model")

// ConfigError is a missing or unusable credential or setting.
type ConfigError struct {
	Provider string
	Message  string
}

func (e *ConfigError) Error() string { return e.Message }

// MissingKeyError builds the error for a provider without a stored API key.
func MissingKeyError(providerID string) *ConfigError {
	return &ConfigError{
		Provider: providerID,
		Message:  fmt.Sprintf("API key for %s not found. Please add it in Settings.", providerID),
	}
}

// UnsupportedFileError rejects a file type before any request is made.
type UnsupportedFileError struct {
	Provider string
	MIMEType string
	Message  string
}

func (e *UnsupportedFileError) Error() string { return e.Message }

// ProviderError wraps a failed provider call with the model it was made for.
type ProviderError struct {
	Model    string
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from a REST provider or the edge proxy.
type HTTPError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s error %d: %s", e.Service, e.StatusCode, msg)
}

// Payload exposes the raw body to retry classification.
func (e *HTTPError) Payload() string { return e.Body }

// RetryHint exposes a Retry-After header to the retry policy.
func (e *HTTPError) RetryHint() time.Duration { return e.RetryAfter }

// Classifier maps a provider error to a kind.
type Classifier func(error) ErrorKind

// KindOf classifies err using typed errors first and the provider classifier
// second, falling back to message inspection.
func KindOf(err error, classify Classifier) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var (
		cfgErr *ConfigError
		unsErr *UnsupportedFileError
		pErr   *ProviderError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &unsErr):
		return KindUnsupported
	case errors.Is(err, ErrModelNotFound), errors.Is(err, ErrModelInactive):
		return KindResolution
	case retry.IsRateLimit(err):
		return KindRateLimit
	case errors.As(err, &pErr) && pErr.Kind != "" && pErr.Kind != KindUnknown:
		return pErr.Kind
	}
	if classify != nil {
		if k := classify(err); k != KindUnknown {
			return k
		}
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if k := kindForStatus(httpErr.StatusCode); k != KindUnknown {
			return k
		}
	}
	return kindFromText(err.Error())
}

// kindForStatus maps HTTP status codes shared by every provider.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusServiceUnavailable, status == 529:
		return KindTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindConfiguration
	case status >= 400:
		return KindProvider
	}
	return KindUnknown
}

var (
	rateLimitMarkers = []string{"429", "resource_exhausted", "quota", "rate limit"}
	transientMarkers = []string{"503", "unavailable", "overloaded"}
	safetyMarkers    = []string{"safety", "blocked"}
	keyMarkers       = []string{"api key not valid", "invalid_api_key", "invalid x-api-key", "incorrect api key"}
)

// kindFromText is the last resort for errors that carry no status code.
func kindFromText(text string) ErrorKind {
	switch {
	case retry.MatchesAny(text, rateLimitMarkers):
		return KindRateLimit
	case retry.MatchesAny(text, transientMarkers):
		return KindTransient
	case retry.MatchesAny(text, safetyMarkers):
		return KindSafety
	case retry.MatchesAny(text, keyMarkers):
		return KindConfiguration
	}
	return KindUnknown
}

// Guidance is a short, user-facing hint for a failure kind.
func Guidance(kind ErrorKind) string {
	switch kind {
	case KindConfiguration:
		return "Check the API key for this provider in Settings."
	case KindResolution:
		return "Pick another model from the list."
	case KindUnsupported:
		return "Try a different file type or switch to a model that supports it."
	case KindRateLimit:
		return "You have hit the provider's rate limit. Wait a moment, switch to another model, or upgrade your plan."
	case KindTransient:
		return "The provider is temporarily unavailable. Please try again shortly."
	case KindSafety:
		return "The request was blocked by the provider's safety filters. Try rephrasing it."
	}
	return ""
}
