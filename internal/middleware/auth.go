package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/jwt"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/prism-ai/prism/internal/pkg/response"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "user_email"
	ContextKeyScope  = "client_scope"

	// HeaderClientID names the anonymous browser instance.
	HeaderClientID = "X-Client-ID"
)

// ScopeHook runs for every request of a signed-in user before the handler.
type ScopeHook func(ctx context.Context, scope clientscope.Scope)

// OptionalAuth resolves the caller and attaches its client scope to the
// request context. A valid Supabase access token yields the user scope;
// anything else falls back to the X-Client-ID scope. Invalid tokens do not
// block the request, and a caller with neither gets no scope at all.
func OptionalAuth(verifier *jwt.Verifier, base kvstore.Store, hooks ...ScopeHook) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var scope clientscope.Scope
		if token := extractToken(c); token != "" {
			if claims, err := verifier.Parse(token); err == nil {
				scope = clientscope.ForUser(base, claims.UserID(), claims.Email, token)
				c.Set(ContextKeyUserID, scope.UserID)
				c.Set(ContextKeyEmail, scope.Email)
				for _, hook := range hooks {
					hook(ctx, scope)
				}
			}
		}
		if scope.Store == nil {
			client, ok := clientscope.ForClient(base, c.GetHeader(HeaderClientID))
			if !ok {
				c.Next()
				return
			}
			scope = client
		}
		c.Set(ContextKeyScope, scope.ID)
		c.Request = c.Request.WithContext(clientscope.With(ctx, scope))
		c.Next()
	}
}

// Auth rejects requests that OptionalAuth did not resolve to a user.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			response.Unauthorized(c)
			return
		}
		c.Next()
	}
}

// RequireScope rejects requests that carry neither a valid token nor an
// X-Client-ID, so their state never lands in a shared namespace.
func RequireScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := clientscope.From(c.Request.Context()); !ok {
			response.BadRequest(c, "sign in or send an "+HeaderClientID+" header")
			return
		}
		c.Next()
	}
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// CurrentEmail is the email claim of the authenticated user.
func CurrentEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentUserID(c) != ""
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
