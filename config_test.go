package authcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfigNeedsOnlySecret(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "missing secret")

	cfg.JWT.Secret = testSecret
	require.NoError(t, cfg.Validate())

	cfg.Security.ProductionMode = true
	require.NoError(t, cfg.Validate(), "defaults satisfy production mode")
}

func TestConfigValidateCollectsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("short")
	cfg.JWT.RefreshTTL = cfg.JWT.AccessTTL
	cfg.Lockout.MaxFailedAttempts = 0
	cfg.Account.DefaultRole = "superuser"

	err := cfg.Validate()
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)
	assert.Contains(t, err.Error(), "Secret")
	assert.Contains(t, err.Error(), "RefreshTTL")
	assert.Contains(t, err.Error(), "MaxFailedAttempts")
	assert.Contains(t, err.Error(), "DefaultRole")
}

func TestConfigValidateBounds(t *testing.T) {
	cases := map[string]func(*Config){
		"negative skew":       func(c *Config) { c.JWT.ClockSkew = -time.Second },
		"skew too large":      func(c *Config) { c.JWT.ClockSkew = 6 * time.Minute },
		"bcrypt cost":         func(c *Config) { c.Password.BcryptCost = 2 },
		"unknown algorithm":   func(c *Config) { c.Password.Algorithm = "md5" },
		"argon memory":        func(c *Config) { c.Password.Algorithm = PasswordArgon2id; c.Password.Memory = 1024 },
		"max below min":       func(c *Config) { c.Password.MaxLength = 4 },
		"reset ttl":           func(c *Config) { c.PasswordReset.ResetTTL = 0 },
		"delay too long":      func(c *Config) { c.Lockout.UnknownAccountDelay = 10 * time.Second },
		"short verify secret": func(c *Config) { c.JWT.VerifySecrets = map[string][]byte{"old": []byte("x")} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfigProductionMode(t *testing.T) {
	cfg := testConfig()
	cfg.Security.ProductionMode = true
	cfg.JWT.AccessTTL = time.Hour
	cfg.Security.RevokeChainOnReuse = false

	err := cfg.Validate()
	errs := multierr.Errors(err)
	// testConfig uses bcrypt.MinCost, which production mode also rejects.
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "AccessTTL")
	assert.Contains(t, err.Error(), "RevokeChainOnReuse")
	assert.Contains(t, err.Error(), "BcryptCost")
}

func TestBuildCopiesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = append([]byte(nil), testSecret...)
	cfg.Password.DenyList = []string{"Hunter2!x"}

	b := New().WithConfig(cfg)
	cfg.JWT.Secret[0] ^= 0xff
	cfg.Password.DenyList[0] = "changed"

	assert.Equal(t, testSecret, b.config.JWT.Secret)
	assert.Equal(t, "Hunter2!x", b.config.Password.DenyList[0])
}
