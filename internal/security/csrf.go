package security

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

var ErrInvalidToken = errors.New("invalid CSRF token")

// TokenManager handles CSRF token generation and transport masking.
// Tokens are cryptographically random and stored server-side in the session;
// verification is done through repository lookup, not cryptographic signature.
type TokenManager struct{}

// NewTokenManager creates a new CSRF token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{}
}

// Generate creates a cryptographically secure random CSRF token (256 bits),
// returned as a 64-character hex string.
func (tm *TokenManager) Generate() (string, error) {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// Mask encodes a token for inclusion in a response body. The raw value is
// XOR-ed with a fresh random pad and returned as base64(pad || pad XOR raw),
// so the same token never appears twice as the same byte sequence. This is
// what keeps a compression side channel (BREACH) from recovering the token
// out of compressed response bodies.
func (tm *TokenManager) Mask(token string) (string, error) {
	raw := []byte(token)
	pad := make([]byte, len(raw))
	if _, err := rand.Read(pad); err != nil {
		return "", err
	}

	out := make([]byte, 0, 2*len(raw))
	out = append(out, pad...)
	for i := range raw {
		out = append(out, raw[i]^pad[i])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Unmask reverses Mask. It returns ErrInvalidToken for values that are not
// valid base64 or whose pad and payload halves are uneven.
func (tm *TokenManager) Unmask(masked string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(masked)
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(decoded) == 0 || len(decoded)%2 != 0 {
		return "", ErrInvalidToken
	}

	half := len(decoded) / 2
	pad, payload := decoded[:half], decoded[half:]

	raw := make([]byte, half)
	for i := range payload {
		raw[i] = payload[i] ^ pad[i]
	}
	return string(raw), nil
}

// Equal compares two token values in time independent of how many leading
// bytes match.
func (tm *TokenManager) Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
