package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/spf13/viper"
)

// Settings is the file/env configuration of authcore commands.
type Settings struct {
	Log         LogSettings         `mapstructure:"log"`
	Backend     BackendSettings     `mapstructure:"backend"`
	Auth        AuthSettings        `mapstructure:"auth"`
	Mail        MailSettings        `mapstructure:"mail"`
	Maintenance MaintenanceSettings `mapstructure:"maintenance"`
	Loadtest    LoadtestSettings    `mapstructure:"loadtest"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// BackendSettings selects and configures persistence.
type BackendSettings struct {
	// Kind is redis, memory (embedded miniredis), sqlite or postgres.
	Kind  string        `mapstructure:"kind"`
	Redis RedisSettings `mapstructure:"redis"`
	SQL   SQLSettings   `mapstructure:"sql"`
}

// RedisSettings holds Redis connection options.
type RedisSettings struct {
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	Retention time.Duration `mapstructure:"retention"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SQLSettings holds the GORM connection string.
type SQLSettings struct {
	DSN string `mapstructure:"dsn"`
}

// AuthSettings mirrors the tunable parts of authcore.Config.
type AuthSettings struct {
	JWT      JWTSettings      `mapstructure:"jwt"`
	Password PasswordSettings `mapstructure:"password"`
	Lockout  LockoutSettings  `mapstructure:"lockout"`

	VerificationTTL    time.Duration `mapstructure:"verification_ttl"`
	ResetTTL           time.Duration `mapstructure:"reset_ttl"`
	DefaultRole        string        `mapstructure:"default_role"`
	ProductionMode     bool          `mapstructure:"production_mode"`
	RevokeChainOnReuse bool          `mapstructure:"revoke_chain_on_reuse"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	Metrics            bool          `mapstructure:"metrics"`
	LatencyHistograms  bool          `mapstructure:"latency_histograms"`
}

// JWTSettings configures access tokens.
type JWTSettings struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	KeyID      string        `mapstructure:"key_id"`
	AccessTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_token_ttl"`
	ClockSkew  time.Duration `mapstructure:"clock_skew"`
}

// PasswordSettings configures hashing and the strength policy.
type PasswordSettings struct {
	Algorithm  string   `mapstructure:"algorithm"`
	BcryptCost int      `mapstructure:"bcrypt_cost"`
	MinLength  int      `mapstructure:"min_length"`
	MaxLength  int      `mapstructure:"max_length"`
	DenyList   []string `mapstructure:"deny_list"`
}

// LockoutSettings configures brute-force lockout.
type LockoutSettings struct {
	MaxFailedAttempts   int           `mapstructure:"max_failed_attempts"`
	Duration            time.Duration `mapstructure:"duration"`
	UnknownAccountDelay time.Duration `mapstructure:"unknown_account_delay"`
}

// MailSettings configures outbound notifications. With SMTP disabled,
// notifications are logged instead of sent.
type MailSettings struct {
	SMTP      SMTPSettings `mapstructure:"smtp"`
	Product   string       `mapstructure:"product"`
	VerifyURL string       `mapstructure:"verify_url"`
	ResetURL  string       `mapstructure:"reset_url"`
}

// SMTPSettings defines SMTP dialer settings.
type SMTPSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MaintenanceSettings configures the purge job.
type MaintenanceSettings struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoadtestSettings sizes the loadtest harness.
type LoadtestSettings struct {
	Accounts    int `mapstructure:"accounts"`
	Concurrency int `mapstructure:"concurrency"`
	Rounds      int `mapstructure:"rounds"`
}

// LoadSettings reads authcore.yaml from ./config and paths, then applies
// AUTHCORE_* environment overrides. A missing file is not an error.
func LoadSettings(paths ...string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName("authcore")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	def := authcore.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("backend.kind", "memory")
	v.SetDefault("backend.redis.address", "127.0.0.1:6379")
	v.SetDefault("backend.redis.username", "")
	v.SetDefault("backend.redis.password", "")
	v.SetDefault("backend.redis.db", 0)
	v.SetDefault("backend.redis.prefix", "authcore")
	v.SetDefault("backend.redis.retention", "168h")
	v.SetDefault("backend.redis.timeout", "5s")
	v.SetDefault("backend.sql.dsn", "")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", def.JWT.Issuer)
	v.SetDefault("auth.jwt.audience", def.JWT.Audience)
	v.SetDefault("auth.jwt.key_id", "")
	v.SetDefault("auth.jwt.access_token_ttl", def.JWT.AccessTTL.String())
	v.SetDefault("auth.jwt.refresh_token_ttl", def.JWT.RefreshTTL.String())
	v.SetDefault("auth.jwt.clock_skew", def.JWT.ClockSkew.String())
	v.SetDefault("auth.password.algorithm", string(def.Password.Algorithm))
	v.SetDefault("auth.password.bcrypt_cost", def.Password.BcryptCost)
	v.SetDefault("auth.password.min_length", def.Password.MinLength)
	v.SetDefault("auth.password.max_length", def.Password.MaxLength)
	v.SetDefault("auth.password.deny_list", []string{})
	v.SetDefault("auth.lockout.max_failed_attempts", def.Lockout.MaxFailedAttempts)
	v.SetDefault("auth.lockout.duration", def.Lockout.Duration.String())
	v.SetDefault("auth.lockout.unknown_account_delay", def.Lockout.UnknownAccountDelay.String())
	v.SetDefault("auth.verification_ttl", def.EmailVerification.VerificationTTL.String())
	v.SetDefault("auth.reset_ttl", def.PasswordReset.ResetTTL.String())
	v.SetDefault("auth.default_role", string(def.Account.DefaultRole))
	v.SetDefault("auth.production_mode", false)
	v.SetDefault("auth.revoke_chain_on_reuse", def.Security.RevokeChainOnReuse)
	v.SetDefault("auth.audit_buffer_size", def.Audit.BufferSize)
	v.SetDefault("auth.metrics", true)
	v.SetDefault("auth.latency_histograms", false)

	v.SetDefault("mail.product", "authcore")
	v.SetDefault("mail.verify_url", "http://localhost:8080/verify")
	v.SetDefault("mail.reset_url", "http://localhost:8080/reset")
	v.SetDefault("mail.smtp.enabled", false)
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.smtp.from", "")
	v.SetDefault("mail.smtp.use_tls", true)
	v.SetDefault("mail.smtp.timeout", "10s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@hourly")
	v.SetDefault("maintenance.retention", "168h")

	v.SetDefault("loadtest.accounts", 200)
	v.SetDefault("loadtest.concurrency", 64)
	v.SetDefault("loadtest.rounds", 20)
}

// EngineConfig maps the auth settings onto authcore.Config. The result
// still has to pass Config.Validate, which Build runs.
func (s *Settings) EngineConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	a := s.Auth

	cfg.JWT.Secret = []byte(a.JWT.Secret)
	cfg.JWT.Issuer = a.JWT.Issuer
	cfg.JWT.Audience = a.JWT.Audience
	cfg.JWT.KeyID = a.JWT.KeyID
	cfg.JWT.AccessTTL = a.JWT.AccessTTL
	cfg.JWT.RefreshTTL = a.JWT.RefreshTTL
	cfg.JWT.ClockSkew = a.JWT.ClockSkew

	cfg.Password.Algorithm = authcore.PasswordAlgorithm(strings.ToLower(a.Password.Algorithm))
	cfg.Password.BcryptCost = a.Password.BcryptCost
	cfg.Password.MinLength = a.Password.MinLength
	cfg.Password.MaxLength = a.Password.MaxLength
	if len(a.Password.DenyList) > 0 {
		cfg.Password.DenyList = append([]string(nil), a.Password.DenyList...)
	}

	cfg.Lockout.MaxFailedAttempts = a.Lockout.MaxFailedAttempts
	cfg.Lockout.Duration = a.Lockout.Duration
	cfg.Lockout.UnknownAccountDelay = a.Lockout.UnknownAccountDelay

	cfg.EmailVerification.VerificationTTL = a.VerificationTTL
	cfg.PasswordReset.ResetTTL = a.ResetTTL
	cfg.Account.DefaultRole = authcore.Role(a.DefaultRole)
	cfg.Security.ProductionMode = a.ProductionMode
	cfg.Security.RevokeChainOnReuse = a.RevokeChainOnReuse
	cfg.Audit.BufferSize = a.AuditBufferSize
	cfg.Metrics.Enabled = a.Metrics
	cfg.Metrics.EnableLatencyHistograms = a.LatencyHistograms
	return cfg
}
