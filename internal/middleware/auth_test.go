package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/jwt"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func scopeRouter(t *testing.T, verifier *jwt.Verifier, hooks ...ScopeHook) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OptionalAuth(verifier, kvstore.NewMemory(), hooks...))
	r.GET("/whoami", func(c *gin.Context) {
		s, _ := clientscope.From(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": s.ID, "user": CurrentUserID(c), "email": CurrentEmail(c)})
	})
	r.GET("/private", Auth(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.PUT("/state", RequireScope(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestOptionalAuthResolvesUser(t *testing.T) {
	v := jwt.NewVerifier(testSecret)
	var hooked []string
	r := scopeRouter(t, v, func(_ context.Context, s clientscope.Scope) { hooked = append(hooked, s.UserID) })

	token, err := v.Sign("user-1", "u@example.com", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderClientID, "ignored")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"user:user-1","user":"user-1","email":"u@example.com"}`, w.Body.String())
	assert.Equal(t, []string{"user-1"}, hooked)

	req = httptest.NewRequest(http.MethodGet, "/private?token="+token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestOptionalAuthFallsBackToClientID(t *testing.T) {
	r := scopeRouter(t, jwt.NewVerifier(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.Header.Set(HeaderClientID, "tab-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"id":"client:tab-42","user":"","email":""}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.JSONEq(t, `{"id":"","user":"","email":""}`, w.Body.String())
}

func TestRequireScopeRejectsUnidentifiedCallers(t *testing.T) {
	v := jwt.NewVerifier(testSecret)
	r := scopeRouter(t, v)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/state", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), HeaderClientID)

	req := httptest.NewRequest(http.MethodPut, "/state", nil)
	req.Header.Set(HeaderClientID, "::")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/state", nil)
	req.Header.Set(HeaderClientID, "tab-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	token, err := v.Sign("user-1", "u@example.com", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, "/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthRejectsAnonymous(t *testing.T) {
	r := scopeRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitWithoutRedisPasses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(nil, 1, time.Minute, nil), Idempotence(nil))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(IdempotenceHeader, "same")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "abc", NormalizeToken("  Bearer abc "))
	assert.Equal(t, "abc", NormalizeToken("abc"))
	assert.Empty(t, NormalizeToken(" "))
}
