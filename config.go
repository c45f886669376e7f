package authcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"
)

// Config is the complete engine configuration. Start from DefaultConfig
// and override; Build validates it once and the engine never mutates it.
type Config struct {
	JWT               JWTConfig
	Password          PasswordConfig
	EmailVerification EmailVerificationConfig
	PasswordReset     PasswordResetConfig
	Lockout           LockoutConfig
	Account           AccountConfig
	Security          SecurityConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token signing and refresh-token lifetime.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Secret is the HS256 signing key, at least 32 bytes.
	Secret   []byte
	Issuer   string
	Audience string
	// ClockSkew is the leeway applied to exp/iat/nbf on validation.
	ClockSkew time.Duration
	// KeyID is written to the kid header. VerifySecrets holds previous keys
	// by kid so tokens signed before a rotation keep validating.
	KeyID         string
	VerifySecrets map[string][]byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordAlgorithm selects the hasher.
type PasswordAlgorithm string

const (
	PasswordBcrypt   PasswordAlgorithm = "bcrypt"
	PasswordArgon2id PasswordAlgorithm = "argon2id"
)

// PasswordConfig controls hashing and the strength policy.
type PasswordConfig struct {
	Algorithm  PasswordAlgorithm
	BcryptCost int

	// Argon2id parameters, used when Algorithm is argon2id.
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int
	// DenyList extends the built-in common-password list.
	DenyList []string
	// UpgradeOnLogin rehashes on successful login when the stored hash was
	// produced with weaker parameters.
	UpgradeOnLogin bool
}

/*
====================================
EPHEMERAL TOKEN CONFIG
====================================
*/

// EmailVerificationConfig controls verification tokens.
type EmailVerificationConfig struct {
	VerificationTTL time.Duration
}

// PasswordResetConfig controls reset tokens.
type PasswordResetConfig struct {
	ResetTTL time.Duration
}

/*
====================================
LOCKOUT / ACCOUNT / SECURITY
====================================
*/

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
	// UnknownAccountDelay is extra wall-clock wait on logins for unknown
	// emails, on top of the decoy hash verification.
	UnknownAccountDelay time.Duration
}

// AccountConfig controls account creation.
type AccountConfig struct {
	DefaultRole Role
}

// SecurityConfig holds posture switches.
type SecurityConfig struct {
	// ProductionMode enforces stricter bounds in Validate.
	ProductionMode bool
	// RevokeChainOnReuse revokes every live descendant of a reused refresh
	// token.
	RevokeChainOnReuse bool
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the documented defaults. JWT.Secret is empty and
// must be set.
func DefaultConfig() Config {
	argon := password.DefaultArgon2Config()
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
			Audience:   "authcore",
			ClockSkew:  30 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:   PasswordBcrypt,
			BcryptCost:  password.DefaultBcryptCost,
			Memory:      argon.Memory,
			Time:        argon.Time,
			Parallelism: argon.Parallelism,
			SaltLength:  argon.SaltLength,
			KeyLength:   argon.KeyLength,
			MinLength:   password.DefaultMinLength,
			MaxLength:   password.DefaultMaxLength,
		},
		EmailVerification: EmailVerificationConfig{
			VerificationTTL: 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			ResetTTL: time.Hour,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          30 * time.Minute,
		},
		Account: AccountConfig{
			DefaultRole: store.RoleStandard,
		},
		Security: SecurityConfig{
			RevokeChainOnReuse: true,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	if cfg.JWT.VerifySecrets != nil {
		out.JWT.VerifySecrets = make(map[string][]byte, len(cfg.JWT.VerifySecrets))
		for kid, key := range cfg.JWT.VerifySecrets {
			out.JWT.VerifySecrets[kid] = cloneBytes(key)
		}
	}
	if cfg.Password.DenyList != nil {
		out.Password.DenyList = append([]string(nil), cfg.Password.DenyList...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports every invalid setting at once; use multierr.Errors to
// split the result.
func (c *Config) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		fail("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		fail("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL > 0 && c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		fail("JWT RefreshTTL must be longer than AccessTTL")
	}
	if len(c.JWT.Secret) < 32 {
		fail("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.ClockSkew < 0 || c.JWT.ClockSkew > 5*time.Minute {
		fail("JWT ClockSkew must be between 0 and 5m")
	}
	for kid, key := range c.JWT.VerifySecrets {
		if strings.TrimSpace(kid) == "" {
			fail("JWT VerifySecrets key id must not be empty")
		}
		if len(key) < 32 {
			fail("JWT VerifySecrets[%q] must be at least 32 bytes", kid)
		}
	}

	// Password
	switch c.Password.Algorithm {
	case PasswordBcrypt:
		if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
			fail("Password BcryptCost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
	case PasswordArgon2id:
		if c.Password.Memory < 8*1024 {
			fail("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			fail("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			fail("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			fail("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			fail("Password KeyLength must be >= 16")
		}
	default:
		fail("Password Algorithm must be bcrypt or argon2id")
	}
	if c.Password.MinLength < 1 {
		fail("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		fail("Password MaxLength must be >= MinLength")
	}

	// Ephemeral tokens
	if c.EmailVerification.VerificationTTL <= 0 {
		fail("EmailVerification VerificationTTL must be > 0")
	}
	if c.PasswordReset.ResetTTL <= 0 {
		fail("PasswordReset ResetTTL must be > 0")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts <= 0 {
		fail("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		fail("Lockout Duration must be > 0")
	}
	if c.Lockout.UnknownAccountDelay < 0 || c.Lockout.UnknownAccountDelay > 5*time.Second {
		fail("Lockout UnknownAccountDelay must be between 0 and 5s")
	}

	// Account
	if !c.Account.DefaultRole.Valid() {
		fail("Account DefaultRole must be standard or admin")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		fail("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			fail("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			fail("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.Issuer == "" || c.JWT.Audience == "" {
			fail("ProductionMode requires JWT Issuer and Audience")
		}
		if c.Password.Algorithm == PasswordBcrypt && c.Password.BcryptCost < password.DefaultBcryptCost {
			fail("ProductionMode requires Password BcryptCost >= %d", password.DefaultBcryptCost)
		}
		if c.Password.Algorithm == PasswordArgon2id && c.Password.Memory < 64*1024 {
			fail("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.MinLength < password.DefaultMinLength {
			fail("ProductionMode requires Password MinLength >= %d", password.DefaultMinLength)
		}
		if c.PasswordReset.ResetTTL > 24*time.Hour {
			fail("ProductionMode requires PasswordReset ResetTTL <= 24h")
		}
		if !c.Security.RevokeChainOnReuse {
			fail("ProductionMode requires Security RevokeChainOnReuse")
		}
	}

	return err
}
