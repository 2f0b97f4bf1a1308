package settings

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	base := kvstore.NewMemory()
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if scope, ok := clientscope.ForClient(base, c.GetHeader("X-Client-ID")); ok {
			c.Request = c.Request.WithContext(clientscope.With(c.Request.Context(), scope))
		}
	})
	NewHandler(newTestService(t, nil, &fakeTester{})).RegisterRoutes(r.Group("/api"))
	return r
}

func call(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-Client-ID", "c1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestSettingsEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w, out := call(t, r, http.MethodPut, "/api/settings/preferences", `{"use_search":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["use_search"])

	w, _ = call(t, r, http.MethodPut, "/api/settings/preferences", `{"default_model":"unknown"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = call(t, r, http.MethodPut, "/api/settings/theme", `{"theme":"light"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "light", out["theme"])
	w, _ = call(t, r, http.MethodPut, "/api/settings/theme", `{"theme":"neon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = call(t, r, http.MethodPut, "/api/settings/api-keys/openai", `{"api_key":"sk-12345678"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "••••5678", out["masked"])

	w, out = call(t, r, http.MethodGet, "/api/settings/api-keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["data"], 4)

	w, out = call(t, r, http.MethodPost, "/api/settings/api-keys/openai/test", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["ok"])

	w, _ = call(t, r, http.MethodPut, "/api/settings/api-keys/google", `{"api_key":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, r, http.MethodDelete, "/api/settings/api-keys/openai", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = call(t, r, http.MethodDelete, "/api/settings/api-keys/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
