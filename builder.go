package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/ephemeral"
	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Builder assembles an Engine. It is single-use and not safe for
// concurrent use.
type Builder struct {
	config    Config
	stores    Stores
	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStores sets the persistence collections. Required.
func (b *Builder) WithStores(s Stores) *Builder {
	b.stores = s
	return b
}

// WithNotifier sets the email collaborator. Defaults to notify.Nop.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink and enables the dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := b.stores.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		Secret:        cloneBytes(cfg.JWT.Secret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.ClockSkew,
		KeyID:         cfg.JWT.KeyID,
		VerifySecrets: cfg.JWT.VerifySecrets,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := newHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	// Unknown-email logins verify against this hash so they cost the same
	// as a wrong password.
	decoySeed, err := internal.NewEphemeralToken()
	if err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash(decoySeed)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(b.stores.RefreshTokens, session.Config{
		TTL: cfg.JWT.RefreshTTL,
		Now: now,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := ephemeral.NewStore(b.stores.Ephemeral, ephemeral.Config{
		VerificationTTL: cfg.EmailVerification.VerificationTTL,
		ResetTTL:        cfg.PasswordReset.ResetTTL,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		users:      b.stores.Users,
		sessions:   sessions,
		ephemeral:  tokens,
		jwtManager: jm,
		hasher:     hasher,
		decoyHash:  decoyHash,
		policy:     password.NewPolicy(cfg.Password.MinLength, cfg.Password.MaxLength, cfg.Password.DenyList...),
		validate:   validator.New(),
		notifier:   notifier,
		logger:     logger.Named("authcore"),
		metrics:    NewMetrics(cfg.Metrics),
		now:        now,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     engine.logger,
	}, b.auditSink)

	b.built = true

	return engine, nil
}

func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	if cfg.Algorithm == PasswordArgon2id {
		a, err := password.NewArgon2(password.Config{
			Memory:      cfg.Memory,
			Time:        cfg.Time,
			Parallelism: cfg.Parallelism,
			SaltLength:  cfg.SaltLength,
			KeyLength:   cfg.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	b, err := password.NewBcrypt(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return b, nil
}
