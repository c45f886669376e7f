package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

const (
	// RefreshTokenBytes is the entropy of an opaque refresh token.
	RefreshTokenBytes = 64
	// EphemeralTokenBytes is the entropy of a verification or reset token.
	EphemeralTokenBytes = 32
)

// NewRefreshToken returns 64 random bytes, base64url without padding.
func NewRefreshToken() (string, error) {
	return newOpaqueToken(RefreshTokenBytes)
}

// NewEphemeralToken returns 32 random bytes, base64url without padding.
func NewEphemeralToken() (string, error) {
	return newOpaqueToken(EphemeralTokenBytes)
}

func newOpaqueToken(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// WellFormed reports whether token decodes to exactly size bytes.
func WellFormed(token string, size int) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(size) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == size
}

// HashToken returns the hex SHA-256 of token, the persisted lookup key.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewID returns a random UUIDv4 string for entity ids.
func NewID() string {
	return uuid.NewString()
}
