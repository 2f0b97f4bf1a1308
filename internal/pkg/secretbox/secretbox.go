// Package secretbox seals short secrets, such as provider API keys, before
// they are written to the database.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrMalformed = errors.New("secretbox: malformed ciphertext")

// Box encrypts with XChaCha20-Poly1305 under a key derived from a passphrase.
type Box struct {
	key [chacha20poly1305.KeySize]byte
}

// New derives the box key from secret. An empty secret is rejected.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("secretbox: secret is empty")
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal returns base64(nonce || ciphertext). additional binds the ciphertext to
// its owner so rows cannot be swapped between users.
func (b *Box) Seal(plaintext, additional string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(additional))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(encoded, additional string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key[:])
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(additional))
	if err != nil {
		return "", fmt.Errorf("secretbox: open: %w", err)
	}
	return string(plain), nil
}
