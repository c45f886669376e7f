package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the shortest accepted HMAC secret.
const MinSecretBytes = 32

// Config configures a Manager.
//
// Secret signs new tokens. VerifySecrets, keyed by kid, lets tokens signed
// with a retired secret keep validating during rotation; when set, KeyID
// must name Secret's entry.
type Config struct {
	AccessTTL     time.Duration
	Secret        []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifySecrets map[string][]byte
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Subject is the account snapshot embedded in an access token.
type Subject struct {
	UserID        string
	Email         string
	Name          string
	Role          string
	EmailVerified bool
}

// Claims is the closed claim set of an access token.
type Claims struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// Manager signs and validates HS256 access tokens. It is immutable and
// safe for concurrent use.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 5*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("hs256 secret must be at least %d bytes", MinSecretBytes)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, secret := range cfg.VerifySecrets {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify secret map contains empty kid")
		}
		if len(secret) < MinSecretBytes {
			return nil, fmt.Errorf("verify secret for kid %q is too short", kid)
		}
	}
	if len(cfg.VerifySecrets) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required with VerifySecrets")
		}
		if _, ok := cfg.VerifySecrets[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifySecrets")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// TTL returns the configured access token lifetime.
func (j *Manager) TTL() time.Duration {
	return j.config.AccessTTL
}

// Issue signs an access token for s and returns it with its expiry.
// Every token carries a fresh random jti.
func (j *Manager) Issue(s Subject) (string, time.Time, error) {
	if s.UserID == "" {
		return "", time.Time{}, errors.New("subject user id is required")
	}
	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL)

	claims := Claims{
		Email:         s.Email,
		Name:          s.Name,
		Role:          s.Role,
		EmailVerified: s.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signed, err := token.SignedString(j.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// The signed exp has second precision; report what verifiers will see.
	return signed, claims.ExpiresAt.Time, nil
}

// Validate checks signature, algorithm, issuer, audience, iat and exp
// (with leeway) and returns the claims. Any failure, including malformed
// input, reports false.
func (j *Manager) Validate(tokenStr string) (*Claims, bool) {
	if tokenStr == "" {
		return nil, false
	}
	token, err := j.parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		return nil, false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, false
	}
	return claims, true
}

// IsExpired decodes tokenStr without verifying it. It is a UX hint for
// choosing between refresh and re-login and must never gate access.
// Undecodable tokens and tokens without exp report expired.
func (j *Manager) IsExpired(tokenStr string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !j.config.Now().Before(claims.ExpiresAt.Time)
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifySecrets) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		secret, ok := j.config.VerifySecrets[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return secret, nil
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return j.config.Secret, nil
}
