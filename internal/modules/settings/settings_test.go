package settings

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/prism-ai/prism/internal/models"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/prism-ai/prism/internal/pkg/secretbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testUserID = "00000000-0000-0000-0000-0000000000bb"

type fakeTester struct {
	provider, key string
	err           error
}

func (f *fakeTester) Test(_ context.Context, providerID, apiKey string) error {
	f.provider, f.key = providerID, apiKey
	return f.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UserAPIKeyModel{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, tester KeyTester) *Service {
	t.Helper()
	box, err := secretbox.New("test-secret")
	require.NoError(t, err)
	registry, err := ai.NewRegistry(ai.DefaultProviders())
	require.NoError(t, err)
	return NewService(registry, db, box, tester, "server-gemini-key", zaptest.NewLogger(t))
}

func clientCtx(id string) context.Context {
	scope, _ := clientscope.ForClient(kvstore.NewMemory(), id)
	return clientscope.With(context.Background(), scope)
}

func userScope(base kvstore.Store) clientscope.Scope {
	return clientscope.ForUser(base, testUserID, "b@example.com", "tok")
}

func raw(t *testing.T, v map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	out := map[string]json.RawMessage{}
	for k, val := range v {
		b, err := json.Marshal(val)
		require.NoError(t, err)
		out[k] = b
	}
	return out
}

func TestPreferencesDefaultsAndMerge(t *testing.T) {
	svc := newTestService(t, nil, &fakeTester{})
	ctx := clientCtx("c1")

	prefs, err := svc.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), prefs)

	prefs, err = svc.UpdatePreferences(ctx, raw(t, map[string]interface{}{"with_reasoning": true, "unknown": 1}))
	require.NoError(t, err)
	assert.True(t, prefs.WithReasoning)
	assert.Equal(t, ai.DefaultChatModel, prefs.DefaultModel)

	prefs, err = svc.UpdatePreferences(ctx, raw(t, map[string]interface{}{"default_model": "gpt-4o", "language": "de"}))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", prefs.DefaultModel)
	assert.True(t, prefs.WithReasoning)

	got, err := svc.GetPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}

func TestPreferencesRejectUnavailableModels(t *testing.T) {
	svc := newTestService(t, nil, &fakeTester{})
	ctx := clientCtx("c1")

	_, err := svc.UpdatePreferences(ctx, raw(t, map[string]interface{}{"default_model": "nope"}))
	assert.ErrorIs(t, err, ai.ErrModelNotFound)
	_, err = svc.UpdatePreferences(ctx, raw(t, map[string]interface{}{"default_model": "gemini-2.0-flash"}))
	assert.ErrorIs(t, err, ai.ErrModelInactive)
}

func TestTheme(t *testing.T) {
	svc := newTestService(t, nil, &fakeTester{})
	ctx := clientCtx("c1")

	theme, err := svc.GetTheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeSystem, theme)

	theme, err = svc.SetTheme(ctx, " Dark ")
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)
	theme, _ = svc.GetTheme(ctx)
	assert.Equal(t, ThemeDark, theme)

	_, err = svc.SetTheme(ctx, "sepia")
	assert.ErrorIs(t, err, ErrInvalidTheme)

	_, err = svc.GetTheme(context.Background())
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestAnonymousKeysStayInScope(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &fakeTester{})
	ctx := clientCtx("c1")

	st, err := svc.SetKey(ctx, "OpenAI", " sk-abcdef1234 ")
	require.NoError(t, err)
	assert.Equal(t, "••••1234", st.Masked)

	keys, err := svc.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 4)
	assert.True(t, keys[0].Managed)
	assert.True(t, keys[0].Configured)
	assert.True(t, keys[1].Configured)
	assert.False(t, keys[2].Configured)

	scope, _ := clientscope.From(ctx)
	stored, _, _ := scope.Store.Get(ctx, ai.KeyName(ai.ProviderOpenAI))
	assert.Equal(t, "sk-abcdef1234", stored)

	var count int64
	db.Model(&models.UserAPIKeyModel{}).Count(&count)
	assert.Zero(t, count)
}

func TestSetKeyValidates(t *testing.T) {
	svc := newTestService(t, nil, &fakeTester{})
	ctx := clientCtx("c1")

	_, err := svc.SetKey(ctx, "google", "k")
	assert.ErrorIs(t, err, ErrManagedKey)
	_, err = svc.SetKey(ctx, "mistral", "k")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = svc.SetKey(ctx, "anthropic", "  ")
	var cfgErr *ai.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestUserKeysAreEncryptedAndHydrated(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &fakeTester{})

	first := kvstore.NewMemory()
	ctx := clientscope.With(context.Background(), userScope(first))
	_, err := svc.SetKey(ctx, "anthropic", "ak-secret-9876")
	require.NoError(t, err)
	_, err = svc.SetKey(ctx, "anthropic", "ak-secret-5555")
	require.NoError(t, err)

	var rows []models.UserAPIKeyModel
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "5555", rows[0].Last4)
	assert.NotContains(t, rows[0].Ciphertext, "ak-secret")

	// A fresh process with an empty store restores the key once.
	restarted := newTestService(t, db, &fakeTester{})
	second := kvstore.NewMemory()
	scope := userScope(second)
	restarted.Hydrate(context.Background(), scope)
	key, ok, err := scope.Store.Get(context.Background(), ai.KeyName(ai.ProviderAnthropic))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ak-secret-5555", key)

	require.NoError(t, scope.Store.Delete(context.Background(), ai.KeyName(ai.ProviderAnthropic)))
	restarted.Hydrate(context.Background(), scope)
	_, ok, _ = scope.Store.Get(context.Background(), ai.KeyName(ai.ProviderAnthropic))
	assert.False(t, ok)

	require.NoError(t, svc.DeleteKey(ctx, "anthropic"))
	var count int64
	db.Unscoped().Model(&models.UserAPIKeyModel{}).Count(&count)
	assert.Zero(t, count)
}

func TestTestKey(t *testing.T) {
	tester := &fakeTester{}
	svc := newTestService(t, nil, tester)
	ctx := clientCtx("c1")

	_, err := svc.SetKey(ctx, "perplexity", "pplx-1")
	require.NoError(t, err)
	res, err := svc.TestKey(ctx, "perplexity", "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "pplx-1", tester.key)

	_, err = svc.TestKey(ctx, "google", "")
	require.NoError(t, err)
	assert.Equal(t, "server-gemini-key", tester.key)

	tester.err = &ai.ProviderError{Model: "GPT-4o", Kind: ai.KindConfiguration, Err: errors.New("401 invalid api key")}
	res, err = svc.TestKey(ctx, "openai", "sk-bad")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ai.KindConfiguration, res.Kind)
	assert.NotEmpty(t, res.Guidance)

	_, err = svc.TestKey(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
