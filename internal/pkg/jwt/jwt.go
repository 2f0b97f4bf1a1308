package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const supabaseAudience = "authenticated"

// Claims is the subset of a Supabase access token the server relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// UserID is the Supabase user id carried in the subject.
func (c *Claims) UserID() string { return c.Subject }

// Verifier validates access tokens issued by Supabase auth.
type Verifier struct {
	secret []byte
}

// NewVerifier returns nil when secret is empty; a nil verifier rejects every token.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Parse validates a token string and returns the claims.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, errors.New("jwt verification is not configured")
	}
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithAudience(supabaseAudience), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// Sign creates a Supabase-shaped token. Used by tests and local tooling.
func (v *Verifier) Sign(userID, email string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", errors.New("jwt verification is not configured")
	}
	claims := Claims{
		Email: email,
		Role:  supabaseAudience,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Audience:  jwtlib.ClaimStrings{supabaseAudience},
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
