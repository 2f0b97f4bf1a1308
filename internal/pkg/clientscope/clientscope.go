// Package clientscope carries the caller's identity and private key-value
// namespace through request contexts.
package clientscope

import (
	"context"
	"errors"
	"strings"

	"github.com/prism-ai/prism/internal/pkg/kvstore"
)

const (
	userPrefix   = "user:"
	clientPrefix = "client:"
)

// Scope identifies who a request acts for and where their state lives.
type Scope struct {
	ID          string
	UserID      string
	Email       string
	AccessToken string
	Store       kvstore.Store
}

// Authenticated reports whether the scope belongs to a signed-in user.
func (s Scope) Authenticated() bool { return s.UserID != "" }

// ForUser builds the scope for an authenticated user.
func ForUser(base kvstore.Store, userID, email, accessToken string) Scope {
	id := userPrefix + userID
	return Scope{
		ID:          id,
		UserID:      userID,
		Email:       email,
		AccessToken: accessToken,
		Store:       kvstore.Scoped(base, id),
	}
}

// ForClient builds the scope for an anonymous client. It reports false when
// clientID is empty after sanitizing; such callers get no namespace at all.
func ForClient(base kvstore.Store, clientID string) (Scope, bool) {
	clientID = sanitize(clientID)
	if clientID == "" {
		return Scope{}, false
	}
	id := clientPrefix + clientID
	return Scope{ID: id, Store: kvstore.Scoped(base, id)}, true
}

// ErrMissing is returned to callers that are neither signed in nor carry a
// client id.
var ErrMissing = errors.New("request has no client scope")

type ctxKey struct{}

// With returns a copy of ctx carrying s.
func With(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the scope stored in ctx.
func From(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok && s.Store != nil
}

// Require is From for code paths that must not run without a namespace.
func Require(ctx context.Context) (Scope, error) {
	s, ok := From(ctx)
	if !ok {
		return Scope{}, ErrMissing
	}
	return s, nil
}

func sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 64 {
		raw = raw[:64]
	}
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
