package security

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var ErrInvalidToken = errors.New("invalid CSRF token")

const tokenBytes = 32

// TokenManager issues CSRF tokens for the synchronizer token pattern.
// Tokens are random, stored server-side on the session, and verified by
// lookup rather than signature.
type TokenManager struct{}

// NewTokenManager creates a new CSRF token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{}
}

// Generate returns a fresh random token as a 64-character hex string.
func (tm *TokenManager) Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Equal compares a stored token against a submitted one in constant time.
func Equal(stored, submitted string) bool {
	return hmac.Equal([]byte(stored), []byte(submitted))
}
