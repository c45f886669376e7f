package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
)

// ErrInvalidToken is returned for refresh tokens that are malformed or unknown.
var ErrInvalidToken = errors.New("session: invalid refresh token")

// ErrTokenNotActive is matched by *NotActiveError.
var ErrTokenNotActive = errors.New("session: refresh token not active")

// Revocation reasons recorded on refresh tokens.
const (
	ReasonRotated         = "rotated"
	ReasonLogout          = "logout"
	ReasonReuseDetected   = "reuse_detected"
	ReasonPasswordReset   = "password_reset"
	ReasonAccountDisabled = "account_disabled"
	ReasonUserIneligible  = "user_ineligible"
	ReasonAdmin           = "admin"
)

const (
	// DefaultTTL is the refresh token lifetime when Config.TTL is zero.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxChainDepth bounds how far RevokeChain follows successors.
	DefaultMaxChainDepth = 64
)

// NotActiveError reports a refresh token that exists but is revoked or
// expired. Record is the stored state at the time of the check.
type NotActiveError struct {
	Record *store.RefreshToken
}

func (e *NotActiveError) Error() string {
	if e.Record != nil && e.Record.RevokedAt != nil {
		return "session: refresh token revoked"
	}
	return "session: refresh token expired"
}

// Is matches ErrTokenNotActive.
func (e *NotActiveError) Is(target error) bool {
	return target == ErrTokenNotActive
}

// Revoked reports whether the token was revoked rather than merely expired.
func (e *NotActiveError) Revoked() bool {
	return e.Record != nil && e.Record.RevokedAt != nil
}

// Rotated reports whether the token was consumed by a rotation, which is
// the signal for reuse detection.
func (e *NotActiveError) Rotated() bool {
	return e.Revoked() && e.Record.ReplacedBy != ""
}

// Config configures a Store.
type Config struct {
	TTL           time.Duration
	MaxChainDepth int
	Now           func() time.Time
}

// Issued is a freshly minted refresh token. Token is the only copy of the
// plaintext; Record holds what was persisted.
type Issued struct {
	Token  string
	Record store.RefreshToken
}

// Store implements the refresh token lifecycle on a RefreshTokenRepository.
//
// Active → Revoked is the only persisted transition; Expired is derived at
// read time. Every transition is a conditional update, so concurrent
// rotations of one token produce exactly one successor.
type Store struct {
	repo          store.RefreshTokenRepository
	ttl           time.Duration
	maxChainDepth int
	now           func() time.Time
}

// NewStore returns a Store over repo.
func NewStore(repo store.RefreshTokenRepository, cfg Config) (*Store, error) {
	if repo == nil {
		return nil, errors.New("session: refresh token repository is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("session: ttl must not be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxChainDepth <= 0 {
		cfg.MaxChainDepth = DefaultMaxChainDepth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		repo:          repo,
		ttl:           cfg.TTL,
		maxChainDepth: cfg.MaxChainDepth,
		now:           cfg.Now,
	}, nil
}

// TTL returns the refresh token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue persists a new Active refresh token for userID.
func (s *Store) Issue(ctx context.Context, userID, ip, clientInfo string) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("session: user id is required")
	}
	return s.insert(ctx, userID, ip, clientInfo, s.now())
}

// Rotate exchanges an active token for a successor.
//
// The old token is revoked with one conditional update that records the
// successor's hash; the successor is inserted only when that update won.
// The loser of a concurrent rotation gets a *NotActiveError.
func (s *Store) Rotate(ctx context.Context, oldToken, ip, clientInfo string) (Issued, error) {
	rec, err := s.Lookup(ctx, oldToken)
	if err != nil {
		return Issued{}, err
	}
	now := s.now()
	if !rec.ActiveAt(now) {
		return Issued{}, &NotActiveError{Record: rec}
	}

	next, err := internal.NewRefreshToken()
	if err != nil {
		return Issued{}, fmt.Errorf("session: generate token: %w", err)
	}
	nextHash := internal.HashToken(next)

	won, err := s.repo.RevokeRefreshToken(ctx, rec.TokenHash, store.Revocation{
		At:               now,
		Reason:           ReasonRotated,
		ReplacedBy:       nextHash,
		RequireUnexpired: true,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("session: revoke rotated token: %w", err)
	}
	if !won {
		if latest, lookupErr := s.repo.RefreshTokenByHash(ctx, rec.TokenHash); lookupErr == nil {
			rec = latest
		}
		return Issued{}, &NotActiveError{Record: rec}
	}

	record := s.newRecord(rec.UserID, nextHash, ip, clientInfo, now)
	if err := s.repo.InsertRefreshToken(ctx, &record); err != nil {
		return Issued{}, fmt.Errorf("session: insert successor: %w", err)
	}
	return Issued{Token: next, Record: record}, nil
}

// Lookup resolves a plaintext token to its stored record regardless of
// state. Malformed and unknown tokens return ErrInvalidToken.
func (s *Store) Lookup(ctx context.Context, token string) (*store.RefreshToken, error) {
	if !internal.WellFormed(token, internal.RefreshTokenBytes) {
		return nil, ErrInvalidToken
	}
	rec, err := s.repo.RefreshTokenByHash(ctx, internal.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	return rec, nil
}

// Revoke revokes token. It is idempotent: absent, malformed and already
// revoked tokens report false without error.
func (s *Store) Revoke(ctx context.Context, token, reason string) (bool, error) {
	if !internal.WellFormed(token, internal.RefreshTokenBytes) {
		return false, nil
	}
	revoked, err := s.repo.RevokeRefreshToken(ctx, internal.HashToken(token), store.Revocation{
		At:     s.now(),
		Reason: reason,
	})
	if err != nil {
		return false, fmt.Errorf("session: revoke: %w", err)
	}
	return revoked, nil
}

// RevokeAllForUser revokes every currently active token of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.repo.RevokeUserRefreshTokens(ctx, userID, store.Revocation{
		At:     s.now(),
		Reason: reason,
	})
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return n, nil
}

// RevokeChain follows ReplacedBy links from a reused token and revokes
// every descendant that is still active. It stops at a missing link or
// after MaxChainDepth hops.
func (s *Store) RevokeChain(ctx context.Context, from *store.RefreshToken, reason string) (int64, error) {
	if from == nil {
		return 0, nil
	}
	var (
		revoked int64
		seen    = map[string]struct{}{from.TokenHash: {}}
		next    = from.ReplacedBy
	)
	for depth := 0; next != "" && depth < s.maxChainDepth; depth++ {
		if _, loop := seen[next]; loop {
			break
		}
		seen[next] = struct{}{}

		rec, err := s.repo.RefreshTokenByHash(ctx, next)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return revoked, fmt.Errorf("session: follow chain: %w", err)
		}
		now := s.now()
		if rec.ActiveAt(now) {
			ok, err := s.repo.RevokeRefreshToken(ctx, rec.TokenHash, store.Revocation{At: now, Reason: reason})
			if err != nil {
				return revoked, fmt.Errorf("session: revoke chain: %w", err)
			}
			if ok {
				revoked++
			}
		}
		next = rec.ReplacedBy
	}
	return revoked, nil
}

// ListActive returns userID's active tokens, newest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]store.RefreshToken, error) {
	tokens, err := s.repo.ActiveRefreshTokens(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}
	return tokens, nil
}

func (s *Store) insert(ctx context.Context, userID, ip, clientInfo string, now time.Time) (Issued, error) {
	token, err := internal.NewRefreshToken()
	if err != nil {
		return Issued{}, fmt.Errorf("session: generate token: %w", err)
	}
	record := s.newRecord(userID, internal.HashToken(token), ip, clientInfo, now)
	if err := s.repo.InsertRefreshToken(ctx, &record); err != nil {
		return Issued{}, fmt.Errorf("session: insert: %w", err)
	}
	return Issued{Token: token, Record: record}, nil
}

func (s *Store) newRecord(userID, hash, ip, clientInfo string, now time.Time) store.RefreshToken {
	return store.RefreshToken{
		ID:         internal.NewID(),
		UserID:     userID,
		TokenHash:  hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
		IP:         ip,
		ClientInfo: clientInfo,
	}
}
