package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	_, unknownErr := env.login(t, "nobody@x.com", testPassword)
	_, wrongErr := env.login(t, testEmail, "Wrong123!@")

	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginUnknownEmailDelayHonoursContext(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Lockout.UnknownAccountDelay = 5 * time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := env.engine.Login(ctx, LoginRequest{Email: "nobody@x.com", Password: testPassword})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoginNormalizesEmail(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	res, err := env.login(t, "  A@X.COM ", testPassword)
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.Profile.Email)
	require.NotNil(t, res.Profile.LastLoginAt)
}

func TestLoginLockoutRevealedOnNextAttempt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		env.registerVerified(t, testEmail)

		for i := 0; i < 5; i++ {
			_, err := env.login(t, testEmail, "Wrong123!@")
			require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
			require.NotErrorIs(t, err, ErrAccountLocked, "attempt %d", i+1)
		}
		assert.Equal(t, uint64(1), env.metric(MetricAccountLocked))

		_, err := env.login(t, testEmail, testPassword)
		var locked *AccountLockedError
		require.True(t, errors.As(err, &locked), "expected lockout, got %v", err)
		require.ErrorIs(t, err, ErrAccountLocked)
		assert.Equal(t, 30, locked.RemainingMinutes)

		env.clock.Advance(29*time.Minute + 30*time.Second)
		_, err = env.login(t, testEmail, testPassword)
		require.True(t, errors.As(err, &locked))
		assert.Equal(t, 1, locked.RemainingMinutes, "remaining minutes round up")

		env.clock.Advance(time.Minute)
		_, err = env.login(t, testEmail, testPassword)
		require.NoError(t, err)

		u, err := env.stores.Users.UserByEmail(context.Background(), testEmail)
		require.NoError(t, err)
		assert.Zero(t, u.FailedLoginCount)
		assert.Nil(t, u.LockoutUntil)

		warns := env.logs.FilterMessage("account locked after repeated failed logins").FilterLevelExact(zapcore.WarnLevel)
		assert.Equal(t, 1, warns.Len())
	})
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	for i := 0; i < 4; i++ {
		_, err := env.login(t, testEmail, "Wrong123!@")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	// Four more failures must not lock: the counter restarted at zero.
	for i := 0; i < 4; i++ {
		_, err := env.login(t, testEmail, "Wrong123!@")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = env.login(t, testEmail, testPassword)
	require.NoError(t, err)
}

func TestLoginDisabledAccount(t *testing.T) {
	env := newEnv(t)
	res := env.registerVerified(t, testEmail)
	require.NoError(t, env.engine.DisableAccount(context.Background(), res.UserID))

	_, err := env.login(t, testEmail, testPassword)
	require.ErrorIs(t, err, ErrAccountDisabled)

	_, err = env.login(t, testEmail, "Wrong123!@")
	require.ErrorIs(t, err, ErrInvalidCredentials, "password is checked before account state")

	require.NoError(t, env.engine.EnableAccount(context.Background(), res.UserID))
	_, err = env.login(t, testEmail, testPassword)
	require.NoError(t, err)
}

func TestLoginUnverifiedAccount(t *testing.T) {
	env := newEnv(t)
	env.register(t, testEmail)

	_, err := env.login(t, testEmail, testPassword)
	require.ErrorIs(t, err, ErrEmailNotVerified)
	assert.Equal(t, uint64(1), env.metric(MetricLoginUnverified))
	assert.Equal(t, uint64(1), env.metric(MetricLoginFailure))
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	stores := redisStores(t)

	weak := newEnvWith(t, stores)
	weak.registerVerified(t, testEmail)

	strong := newEnvWith(t, stores, func(c *Config) {
		c.Password.BcryptCost = 6
		c.Password.UpgradeOnLogin = true
	})
	_, err := strong.login(t, testEmail, testPassword)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), strong.metric(MetricPasswordRehashed))

	u, err := stores.Users.UserByEmail(context.Background(), testEmail)
	require.NoError(t, err)
	_, err = strong.login(t, testEmail, testPassword)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), strong.metric(MetricPasswordRehashed), "hash already at target cost")
	assert.Contains(t, u.PasswordHash, "$06$")
}
