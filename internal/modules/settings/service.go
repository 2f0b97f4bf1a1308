package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
)

// Storage keys inside the client scope.
const (
	KeyPreferences = "prism_ai_preferences"
	KeyTheme       = "theme"
)

// Themes.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

var (
	ErrNoScope         = clientscope.ErrMissing
	ErrInvalidTheme    = errors.New("theme must be light, dark or system")
	ErrUnknownProvider = errors.New("unknown provider")
)

// Preferences are the analysis and chat defaults of a client.
type Preferences struct {
	DefaultModel  string `json:"default_model"`
	WithReasoning bool   `json:"with_reasoning"`
	ThinkingMode  bool   `json:"thinking_mode"`
	UseSearch     bool   `json:"use_search"`
	Language      string `json:"language"`
}

// DefaultPreferences is what a new client starts with.
func DefaultPreferences() Preferences {
	return Preferences{DefaultModel: ai.DefaultChatModel, Language: "en"}
}

func storeOf(ctx context.Context) (kvstore.Store, error) {
	scope, ok := clientscope.From(ctx)
	if !ok {
		return nil, ErrNoScope
	}
	return scope.Store, nil
}

// GetPreferences returns the stored preferences over the defaults.
func (s *Service) GetPreferences(ctx context.Context) (Preferences, error) {
	store, err := storeOf(ctx)
	if err != nil {
		return Preferences{}, err
	}
	prefs := DefaultPreferences()
	if _, err := kvstore.GetJSON(ctx, store, KeyPreferences, &prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// UpdatePreferences merges the given fields into the stored preferences.
// Unknown fields are ignored; the default model must be an active model.
func (s *Service) UpdatePreferences(ctx context.Context, partial map[string]json.RawMessage) (Preferences, error) {
	store, err := storeOf(ctx)
	if err != nil {
		return Preferences{}, err
	}
	current, err := s.GetPreferences(ctx)
	if err != nil {
		return Preferences{}, err
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return Preferences{}, err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(currentJSON, &merged); err != nil {
		return Preferences{}, err
	}
	for k, v := range partial {
		if _, known := merged[k]; !known || len(strings.TrimSpace(string(v))) == 0 {
			continue
		}
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return Preferences{}, err
	}
	updated := DefaultPreferences()
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return Preferences{}, fmt.Errorf("invalid preferences: %w", err)
	}

	updated.DefaultModel = strings.TrimSpace(updated.DefaultModel)
	if _, _, err := s.registry.ResolveActive(updated.DefaultModel); err != nil {
		return Preferences{}, err
	}
	if updated.Language = strings.TrimSpace(updated.Language); updated.Language == "" {
		updated.Language = DefaultPreferences().Language
	}

	if err := kvstore.SetJSON(ctx, store, KeyPreferences, updated); err != nil {
		return Preferences{}, err
	}
	return updated, nil
}

// GetTheme returns the stored theme, system by default.
func (s *Service) GetTheme(ctx context.Context) (string, error) {
	store, err := storeOf(ctx)
	if err != nil {
		return "", err
	}
	theme, ok, err := store.Get(ctx, KeyTheme)
	if err != nil {
		return "", err
	}
	if !ok || !validTheme(theme) {
		return ThemeSystem, nil
	}
	return theme, nil
}

// SetTheme stores the theme.
func (s *Service) SetTheme(ctx context.Context, theme string) (string, error) {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if !validTheme(theme) {
		return "", ErrInvalidTheme
	}
	store, err := storeOf(ctx)
	if err != nil {
		return "", err
	}
	return theme, store.Set(ctx, KeyTheme, theme)
}

func validTheme(theme string) bool {
	switch theme {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}
