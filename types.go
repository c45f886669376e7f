package authcore

import (
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/store"
)

type (
	// User is the persisted account record.
	User = store.User
	// Role is the closed set of account roles.
	Role = store.Role
	// Stores bundles the persistence collections the engine needs.
	Stores = store.Stores
	// Claims are the verified claims of an access token.
	Claims = jwt.Claims
	// Notifier delivers account emails. Failures are logged, never returned.
	Notifier = notify.Notifier
)

const (
	RoleStandard = store.RoleStandard
	RoleAdmin    = store.RoleAdmin
)

// RegisterRequest is the input of Register. Email is normalized before
// validation and storage.
type RegisterRequest struct {
	Email     string `validate:"required,email,max=254"`
	Password  string
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	// IP is recorded on the verification token. Falls back to WithClientIP.
	IP string `validate:"omitempty,max=64"`
}

// RegisterResult is returned by a successful Register.
type RegisterResult struct {
	UserID  string
	Profile PublicProfile
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Email      string
	Password   string
	IP         string
	ClientInfo string
}

// TokenPair is a signed access token plus an opaque refresh token. The
// refresh token is the only plaintext copy; only its hash is stored.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	TokenPair
	Profile PublicProfile
}

// PublicProfile is the caller-safe view of a User.
type PublicProfile struct {
	ID            string
	Email         string
	FirstName     string
	LastName      string
	Role          Role
	EmailVerified bool
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

func profileOf(u *store.User) PublicProfile {
	return PublicProfile{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// SessionInfo describes one active refresh token without exposing its hash.
type SessionInfo struct {
	ID         string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	IP         string
	ClientInfo string
}

// AuditEvent is one security-relevant outcome of an engine operation.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// MultiSink fans audit events out to several sinks.
type MultiSink = internalaudit.MultiSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events through zap.
type ZapSink = internalaudit.ZapSink

var (
	// NewChannelSink returns a ChannelSink with the given buffer.
	NewChannelSink = internalaudit.NewChannelSink
	// NewJSONWriterSink returns a JSONWriterSink over w.
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
	// NewZapSink returns a ZapSink over logger.
	NewZapSink = internalaudit.NewZapSink
)
