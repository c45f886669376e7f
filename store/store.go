package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup or the
	// conditional-update guard.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Role is the closed set of account roles.
type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdmin
}

// User is the root identity record.
//
// Email is stored normalized (see NormalizeEmail). LastLoginAt and
// LockoutUntil are nil when unset.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	LastName         string
	Role             Role
	EmailVerified    bool
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLoginAt      *time.Time
	FailedLoginCount int
	LockoutUntil     *time.Time
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LockedUntil returns the remaining lockout window at now, if any.
func (u *User) LockedUntil(now time.Time) (time.Duration, bool) {
	if u == nil || u.LockoutUntil == nil {
		return 0, false
	}
	remaining := u.LockoutUntil.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// NormalizeEmail lowercases and trims an email address before any
// uniqueness check or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserPatch is a partial update of a User. Nil fields are left untouched.
type UserPatch struct {
	PasswordHash  *string
	EmailVerified *bool
	Active        *bool
	LastLoginAt   *time.Time
	// ClearLoginFailures zeroes FailedLoginCount and unsets LockoutUntil.
	ClearLoginFailures bool
}

// LoginFailure is the counter state after a recorded failed login.
type LoginFailure struct {
	Count        int
	LockoutUntil *time.Time
	// Locked is true when this failure moved the account into lockout.
	Locked bool
}

// UserRepository persists User records.
type UserRepository interface {
	// CreateUser inserts u and returns ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	// UserByEmail expects a normalized email.
	UserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateUser applies patch and bumps UpdatedAt to now.
	UpdateUser(ctx context.Context, id string, patch UserPatch, now time.Time) error
	// RecordLoginFailure atomically increments the failure counter. A lockout
	// that already elapsed is cleared first; reaching threshold sets
	// LockoutUntil to now+lockout.
	RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (LoginFailure, error)
}

// RefreshToken is a persisted session credential. Only the SHA-256 hash of
// the opaque token is stored; ReplacedBy holds the successor's hash.
type RefreshToken struct {
	ID               string
	UserID           string
	TokenHash        string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	ReplacedBy       string
	RevocationReason string
	IP               string
	ClientInfo       string
}

// ActiveAt reports whether the token is unrevoked and unexpired at now.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Revocation describes a conditional revoke. The update only applies to
// records whose RevokedAt is unset; RequireUnexpired adds ExpiresAt > At.
type Revocation struct {
	At               time.Time
	Reason           string
	ReplacedBy       string
	RequireUnexpired bool
}

// RefreshTokenRepository persists RefreshToken records keyed by hash.
type RefreshTokenRepository interface {
	InsertRefreshToken(ctx context.Context, t *RefreshToken) error
	RefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// RevokeRefreshToken reports whether this call performed the revoke.
	RevokeRefreshToken(ctx context.Context, hash string, rev Revocation) (bool, error)
	// RevokeUserRefreshTokens revokes every token of userID active at rev.At.
	RevokeUserRefreshTokens(ctx context.Context, userID string, rev Revocation) (int64, error)
	ActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
}

// EphemeralKind distinguishes single-use token purposes.
type EphemeralKind string

const (
	KindEmailVerification EphemeralKind = "email_verification"
	KindPasswordReset     EphemeralKind = "password_reset"
)

// Valid reports whether k is a known kind.
func (k EphemeralKind) Valid() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// EphemeralToken is a single-use token bound to one user and purpose.
type EphemeralToken struct {
	ID        string
	Kind      EphemeralKind
	UserID    string
	TokenHash string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
	IP        string
}

// ValidAt reports whether the token is unused and unexpired at now.
func (t *EphemeralToken) ValidAt(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// EphemeralTokenRepository persists EphemeralToken records keyed by hash.
type EphemeralTokenRepository interface {
	InsertEphemeralToken(ctx context.Context, t *EphemeralToken) error
	// ConsumeEphemeralToken marks the token used iff it is of kind, unused
	// and unexpired at now, in one conditional update. It returns
	// ErrNotFound when the guard did not match.
	ConsumeEphemeralToken(ctx context.Context, kind EphemeralKind, hash string, now time.Time) (*EphemeralToken, error)
	// InvalidateEphemeralTokens marks every still-valid token of kind owned
	// by userID as used.
	InvalidateEphemeralTokens(ctx context.Context, userID string, kind EphemeralKind, now time.Time) (int64, error)
}

// Stores bundles the three collections the engine needs.
type Stores struct {
	Users         UserRepository
	RefreshTokens RefreshTokenRepository
	Ephemeral     EphemeralTokenRepository
}

// Validate checks that every collection is wired.
func (s Stores) Validate() error {
	if s.Users == nil {
		return errors.New("store: user repository is required")
	}
	if s.RefreshTokens == nil {
		return errors.New("store: refresh token repository is required")
	}
	if s.Ephemeral == nil {
		return errors.New("store: ephemeral token repository is required")
	}
	return nil
}

// PurgeStats counts physically removed records.
type PurgeStats struct {
	RefreshTokens   int64
	EphemeralTokens int64
}

// Purger physically removes token records that expired before a cutoff.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time) (PurgeStats, error)
}
