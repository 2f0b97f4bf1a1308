package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prism-ai/prism/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	yml := fmt.Sprintf(`
env: production
allowed_origins: ["*.prism.example", "localhost:*"]
database:
  driver: sqlite
  name: %s
storage:
  local_dir: %s
supabase:
  jwt_secret: app-test-secret-app-test-secret-app-test
`, filepath.Join(dir, "prism.db"), filepath.Join(dir, "uploads"))
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	a, err := New(zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func TestRoutesAreWired(t *testing.T) {
	a := newTestApp(t)

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/ai/providers", http.StatusOK},
		{http.MethodGet, "/api/v1/ai/usage", http.StatusOK},
		{http.MethodGet, "/api/v1/files", http.StatusOK},
		{http.MethodGet, "/api/v1/conversations", http.StatusOK},
		{http.MethodGet, "/api/v1/settings/preferences", http.StatusOK},
		{http.MethodGet, "/api/v1/settings/api-keys", http.StatusOK},
		{http.MethodGet, "/api/v1/account/profile", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/gateway/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{http.MethodPut, "/api/v1/health", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("X-Client-ID", "app-test")
		w := httptest.NewRecorder()
		a.Router().ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestStatefulRoutesNeedAnIdentity(t *testing.T) {
	a := newTestApp(t)

	do := func(method, path, clientID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if clientID != "" {
			req.Header.Set("X-Client-ID", clientID)
		}
		w := httptest.NewRecorder()
		a.Router().ServeHTTP(w, req)
		return w
	}

	for _, path := range []string{
		"/api/v1/settings/api-keys",
		"/api/v1/files",
		"/api/v1/conversations",
		"/api/v1/ai/usage",
	} {
		assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, path, "", "").Code, path)
	}
	w := do(http.MethodPut, "/api/v1/settings/api-keys/openai", "", `{"api_key":"sk-shared-0000"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/v1/ai/providers", "", "").Code)

	w = do(http.MethodPut, "/api/v1/settings/api-keys/openai", "tab-a", `{"api_key":"sk-private-1234"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	configured := func(clientID string) bool {
		w := do(http.MethodGet, "/api/v1/settings/api-keys", clientID, "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data []struct {
				ProviderID string `json:"provider_id"`
				Configured bool   `json:"configured"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		for _, k := range body.Data {
			if k.ProviderID == "openai" {
				return k.Configured
			}
		}
		return false
	}
	assert.True(t, configured("tab-a"))
	assert.False(t, configured("tab-b"))
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, appName, body["name"])
	assert.Equal(t, map[string]interface{}{"database": "up"}, body["checks"])
}

func TestCORSAllowedOrigins(t *testing.T) {
	a := newTestApp(t)

	preflight := func(origin string) string {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		a.Router().ServeHTTP(w, req)
		return w.Header().Get("Access-Control-Allow-Origin")
	}
	assert.Equal(t, "https://app.prism.example", preflight("https://app.prism.example"))
	assert.Equal(t, "http://localhost:5173", preflight("http://localhost:5173"))
	assert.Empty(t, preflight("https://evil.example"))
}

func TestMatchOriginPattern(t *testing.T) {
	assert.True(t, matchOriginPattern("prism.example", "prism.example"))
	assert.True(t, matchOriginPattern("*.prism.example", "a.prism.example"))
	assert.False(t, matchOriginPattern("*.prism.example", "prism.example.evil"))
	assert.True(t, matchOriginPattern("localhost:*", "localhost:3000"))
	assert.Equal(t, "a.example:8080", extractOriginHost("https://a.example:8080"))
}

func TestParseTimezoneLocation(t *testing.T) {
	loc, err := parseTimezoneLocation("+02:00")
	require.NoError(t, err)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 7200, offset)

	for raw, want := range map[string]int{"-0530": -19800, "UTC+8": 28800, "gmt-3": -10800} {
		loc, err := parseTimezoneLocation(raw)
		require.NoError(t, err, raw)
		_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
		assert.Equal(t, want, offset, raw)
	}

	loc, err = parseTimezoneLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	_, err = parseTimezoneLocation("Mars/Olympus")
	assert.Error(t, err)
	_, err = parseTimezoneLocation("+15:00")
	assert.Error(t, err)
}

func TestHumanizeDuration(t *testing.T) {
	assert.Equal(t, "42s", humanizeDuration(42*time.Second+300*time.Millisecond))
	assert.Equal(t, "5m0s", humanizeDuration(5*time.Minute+10*time.Second))
	assert.Equal(t, "3h0m0s", humanizeDuration(3*time.Hour+59*time.Minute))
	assert.Equal(t, "2d5h0m0s", humanizeDuration(53*time.Hour+20*time.Minute))
}
