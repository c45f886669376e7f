package password

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost keeps a single verification near 100ms on commodity hardware.
const DefaultBcryptCost = 12

// bcryptInputLimit is the number of input bytes bcrypt actually consumes.
const bcryptInputLimit = 72

// ErrEmptyPassword is returned by Hash for an empty password.
var ErrEmptyPassword = errors.New("password: empty password")

// Hasher hashes and verifies passwords.
//
// Verify must not error: a malformed hash, empty input or mismatch all
// report false, so callers cannot tell them apart.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// Bcrypt is the default [Hasher]. Hashes embed their salt and cost.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A zero cost selects DefaultBcryptCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password: bcrypt cost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the configured work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash returns a bcrypt hash of password.
func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	out, err := bcrypt.GenerateFromPassword(bcryptInput(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("password: bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify reports whether password matches encodedHash.
func (b *Bcrypt) Verify(password, encodedHash string) bool {
	if password == "" || encodedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), bcryptInput(password)) == nil
}

// NeedsUpgrade reports whether encodedHash was produced with a lower cost.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false
	}
	return cost < b.cost
}

// bcryptInput pre-hashes inputs longer than bcrypt's 72 byte window so that
// long passphrases are neither rejected nor silently truncated.
func bcryptInput(password string) []byte {
	if len(password) <= bcryptInputLimit {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

var (
	_ Hasher = (*Bcrypt)(nil)
	_ Hasher = (*Argon2)(nil)
)
