// Package kvstore is the durable key-value store for lightweight client state:
// provider API keys, usage counters, preferences and theme.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Change describes a write observed through Subscribe. It never carries the
// value: stored values include provider API keys and the change feed may
// cross the network.
type Change struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is implemented by the memory and redis backends.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Subscribe streams changes until cancel is called or ctx ends.
	Subscribe(ctx context.Context) (changes <-chan Change, cancel func())
}

// ErrInvalidValue is returned when a stored value cannot be decoded.
var ErrInvalidValue = errors.New("kvstore: invalid stored value")

// GetJSON decodes a JSON value into out. It reports false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	return true, nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(data))
}

// GetInt reads an integer value; absent or unparsable values yield def.
func GetInt(ctx context.Context, s Store, key string, def int) (int, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(raw))
	if convErr != nil {
		return def, nil
	}
	return n, nil
}

// SetInt stores an integer value.
func SetInt(ctx context.Context, s Store, key string, v int) error {
	return s.Set(ctx, key, strconv.Itoa(v))
}

const scopePrefix = "scope:"

// Scoped returns a view of s whose keys are namespaced by scope.
func Scoped(s Store, scope string) Store {
	return &scoped{inner: s, prefix: scopePrefix + scope + ":"}
}

// SplitScope reverses Scoped for a base-store key whose scope has the
// "<kind>:<id>" form, such as "user:42" or "client:tab-1".
func SplitScope(key string) (scope, rest string, ok bool) {
	tail, ok := strings.CutPrefix(key, scopePrefix)
	if !ok {
		return "", "", false
	}
	parts := strings.SplitN(tail, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + ":" + parts[1], parts[2], true
}

type scoped struct {
	inner  Store
	prefix string
}

func (s *scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *scoped) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *scoped) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *scoped) Subscribe(ctx context.Context) (<-chan Change, func()) {
	in, cancel := s.inner.Subscribe(ctx)
	out := make(chan Change, cap(in))
	go func() {
		defer close(out)
		for ch := range in {
			if !strings.HasPrefix(ch.Key, s.prefix) {
				continue
			}
			ch.Key = strings.TrimPrefix(ch.Key, s.prefix)
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}
