package retry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GoogleErrorBody is the structured error envelope Google APIs return on 429.
type GoogleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

var (
	retryDelayPattern = regexp.MustCompile(`(?i)"?retryDelay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s"?`)
	retryAfterPattern = regexp.MustCompile(`(?i)"?retry[_-]after"?\s*[:=]\s*"?(\d+(?:\.\d+)?)`)
)

// SuggestedDelay extracts a provider-suggested wait from serialized error text.
// Returns 0 when none is present.
func SuggestedDelay(text string) time.Duration {
	if text == "" {
		return 0
	}
	if m := retryDelayPattern.FindStringSubmatch(text); len(m) == 2 {
		if d := secondsToDuration(m[1]); d > 0 {
			return d
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(text); len(m) == 2 {
		if d := secondsToDuration(m[1]); d > 0 {
			return d
		}
	}
	if d := delayFromGoogleBody([]byte(text)); d > 0 {
		return d
	}
	return 0
}

// ParseRetryDelay reads the Retry-After header of a failed provider call,
// falling back to a delay suggested in its error body.
func ParseRetryDelay(header http.Header, body []byte) time.Duration {
	if d := ParseRetryAfterHeader(header.Get("Retry-After")); d > 0 {
		return d
	}
	return SuggestedDelay(string(body))
}

// ParseRetryAfterHeader accepts delta-seconds or an HTTP date.
func ParseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if d := secondsToDuration(value); d > 0 {
		return d
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func delayFromGoogleBody(body []byte) time.Duration {
	start := bytes.IndexByte(body, '{')
	if start < 0 {
		return 0
	}
	var info GoogleErrorBody
	if err := json.Unmarshal(body[start:], &info); err != nil {
		return 0
	}
	for _, detail := range info.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil && d > 0 {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil && d > 0 {
				return d
			}
		}
	}
	return 0
}

func secondsToDuration(raw string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
