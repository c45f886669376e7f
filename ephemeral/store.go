package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
)

// ErrInvalidOrExpired covers absent, malformed, used, expired and
// wrong-kind tokens alike.
var ErrInvalidOrExpired = errors.New("ephemeral: token invalid or expired")

const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
)

// Config configures a Store. Zero TTLs select the defaults.
type Config struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	Now             func() time.Time
}

// Identity is who a consumed token was issued to.
type Identity struct {
	UserID string
	Email  string
}

// Issued is a freshly minted token; Token is the only plaintext copy.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Store manages ephemeral tokens over an EphemeralTokenRepository.
type Store struct {
	repo            store.EphemeralTokenRepository
	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time
}

// NewStore returns a Store over repo.
func NewStore(repo store.EphemeralTokenRepository, cfg Config) (*Store, error) {
	if repo == nil {
		return nil, errors.New("ephemeral: repository is required")
	}
	if cfg.VerificationTTL < 0 || cfg.ResetTTL < 0 {
		return nil, errors.New("ephemeral: ttl must not be negative")
	}
	if cfg.VerificationTTL == 0 {
		cfg.VerificationTTL = DefaultVerificationTTL
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		repo:            repo,
		verificationTTL: cfg.VerificationTTL,
		resetTTL:        cfg.ResetTTL,
		now:             cfg.Now,
	}, nil
}

// IssueVerification replaces any outstanding verification token of userID.
func (s *Store) IssueVerification(ctx context.Context, userID, email, ip string) (Issued, error) {
	return s.issue(ctx, store.KindEmailVerification, s.verificationTTL, userID, email, ip)
}

// IssuePasswordReset replaces any outstanding reset token of userID.
func (s *Store) IssuePasswordReset(ctx context.Context, userID, email, ip string) (Issued, error) {
	return s.issue(ctx, store.KindPasswordReset, s.resetTTL, userID, email, ip)
}

// Invalidate marks every valid token of kind owned by userID as used.
func (s *Store) Invalidate(ctx context.Context, userID string, kind store.EphemeralKind) (int64, error) {
	n, err := s.repo.InvalidateEphemeralTokens(ctx, userID, kind, s.now())
	if err != nil {
		return 0, fmt.Errorf("ephemeral: invalidate %s: %w", kind, err)
	}
	return n, nil
}

// Consume validates token and marks it used in one step.
func (s *Store) Consume(ctx context.Context, kind store.EphemeralKind, token string) (Identity, error) {
	if !kind.Valid() || !internal.WellFormed(token, internal.EphemeralTokenBytes) {
		return Identity{}, ErrInvalidOrExpired
	}
	rec, err := s.repo.ConsumeEphemeralToken(ctx, kind, internal.HashToken(token), s.now())
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Identity{}, fmt.Errorf("ephemeral: consume: %w", err)
	}
	return Identity{UserID: rec.UserID, Email: rec.Email}, nil
}

func (s *Store) issue(ctx context.Context, kind store.EphemeralKind, ttl time.Duration, userID, email, ip string) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("ephemeral: user id is required")
	}
	if _, err := s.Invalidate(ctx, userID, kind); err != nil {
		return Issued{}, err
	}

	token, err := internal.NewEphemeralToken()
	if err != nil {
		return Issued{}, fmt.Errorf("ephemeral: generate token: %w", err)
	}
	now := s.now()
	rec := &store.EphemeralToken{
		ID:        internal.NewID(),
		Kind:      kind,
		UserID:    userID,
		TokenHash: internal.HashToken(token),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IP:        ip,
	}
	if err := s.repo.InsertEphemeralToken(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("ephemeral: insert %s: %w", kind, err)
	}
	return Issued{Token: token, ExpiresAt: rec.ExpiresAt}, nil
}
