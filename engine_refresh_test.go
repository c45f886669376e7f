package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRefreshReuseRevokesDescendants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.registerVerified(t, testEmail)

		first, err := env.login(t, testEmail, testPassword)
		require.NoError(t, err)
		second, err := env.engine.Refresh(ctx, first.RefreshToken, testIP, "")
		require.NoError(t, err)
		third, err := env.engine.Refresh(ctx, second.RefreshToken, testIP, "")
		require.NoError(t, err)

		_, err = env.engine.Refresh(ctx, first.RefreshToken, "198.51.100.9", "")
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
		assert.Equal(t, uint64(1), env.metric(MetricRefreshReuseDetected))
		assert.Equal(t, uint64(1), env.metric(MetricRefreshChainRevoked))

		_, err = env.engine.Refresh(ctx, third.RefreshToken, testIP, "")
		require.ErrorIs(t, err, ErrInvalidRefreshToken, "live descendant is revoked after reuse")
		assert.Equal(t, uint64(1), env.metric(MetricRefreshReuseDetected), "revoked-by-reuse is not itself a reuse")

		warns := env.logs.FilterMessage("refresh token reuse detected").FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, warns, 1)
		assert.Equal(t, first.Profile.ID, warns[0].ContextMap()["user_id"])
		assert.Equal(t, "198.51.100.9", warns[0].ContextMap()["ip"])
	})
}

func TestRefreshReuseWithoutChainRevocation(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Security.RevokeChainOnReuse = false
	})
	ctx := context.Background()
	env.registerVerified(t, testEmail)

	first, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)
	second, err := env.engine.Refresh(ctx, first.RefreshToken, testIP, "")
	require.NoError(t, err)

	_, err = env.engine.Refresh(ctx, first.RefreshToken, testIP, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = env.engine.Refresh(ctx, second.RefreshToken, testIP, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.metric(MetricRefreshReuseDetected))
	assert.Zero(t, env.metric(MetricRefreshChainRevoked))
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(context.Background(), res.RefreshToken, testIP, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, uint64(1), env.metric(MetricRefreshSuccess))
	assert.Equal(t, uint64(n-1), env.metric(MetricRefreshFailure))
}

func TestRefreshMalformedAndExpired(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.registerVerified(t, testEmail)

	for _, token := range []string{"", "not-a-token", "!!!!", unknownRefreshToken()} {
		_, err := env.engine.Refresh(ctx, token, testIP, "")
		require.ErrorIs(t, err, ErrInvalidRefreshToken, "token %q", token)
	}

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)
	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Zero(t, env.metric(MetricRefreshReuseDetected), "expiry is not reuse")
}

// unknownRefreshToken is a well-formed but unknown refresh token.
func unknownRefreshToken() string {
	return strings.Repeat("A", 86)
}

func TestRefreshIneligibleUserLosesSuccessor(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	reg := env.registerVerified(t, testEmail)

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	inactive := false
	require.NoError(t, env.stores.Users.UpdateUser(ctx, reg.UserID, store.UserPatch{Active: &inactive}, env.clock.Now()))

	_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	sessions, err := env.engine.ActiveSessions(ctx, reg.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLogoutIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.registerVerified(t, testEmail)

		res, err := env.login(t, testEmail, testPassword)
		require.NoError(t, err)

		require.NoError(t, env.engine.Logout(ctx, res.RefreshToken, testIP))
		require.NoError(t, env.engine.Logout(ctx, res.RefreshToken, testIP))
		require.NoError(t, env.engine.Logout(ctx, "garbage", testIP))
		require.NoError(t, env.engine.Logout(ctx, unknownRefreshToken(), testIP))
		assert.Equal(t, uint64(1), env.metric(MetricLogout))

		_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "")
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestRefreshAfterLogoutLogsReplay(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		env.registerVerified(t, testEmail)

		res, err := env.login(t, testEmail, testPassword)
		require.NoError(t, err)
		second, err := env.login(t, testEmail, testPassword)
		require.NoError(t, err)
		require.NoError(t, env.engine.Logout(ctx, res.RefreshToken, testIP))

		_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "")
		require.ErrorIs(t, err, ErrInvalidRefreshToken)

		warns := env.logs.FilterMessage("refresh token replay").FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, warns, 1)
		assert.Equal(t, "logout:"+testIP, warns[0].ContextMap()["revocation_reason"])
		assert.Zero(t, env.logs.FilterMessage("refresh token reuse detected").Len())
		assert.Zero(t, env.metric(MetricRefreshReuseDetected))

		// Replay of a logged-out token leaves other sessions intact.
		_, err = env.engine.Refresh(ctx, second.RefreshToken, testIP, "")
		require.NoError(t, err)
	})
}

func TestLogoutRecordsIPInReason(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.registerVerified(t, testEmail)

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, env.engine.Logout(ctx, res.RefreshToken, testIP))

	rec, err := env.stores.RefreshTokens.RefreshTokenByHash(ctx, internal.HashToken(res.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "logout:"+testIP, rec.RevocationReason)
	assert.NotNil(t, rec.RevokedAt)
}

func TestRevokeAllTokensAndActiveSessions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		reg := env.registerVerified(t, testEmail)

		for i := 0; i < 3; i++ {
			_, err := env.login(t, testEmail, testPassword)
			require.NoError(t, err)
		}
		sessions, err := env.engine.ActiveSessions(ctx, reg.UserID)
		require.NoError(t, err)
		assert.Len(t, sessions, 3)

		n, err := env.engine.RevokeAllTokens(ctx, reg.UserID, "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = env.engine.RevokeAllTokens(ctx, reg.UserID, "suspicious")
		require.NoError(t, err)
		assert.Zero(t, n)

		sessions, err = env.engine.ActiveSessions(ctx, reg.UserID)
		require.NoError(t, err)
		assert.Empty(t, sessions)

		_, err = env.engine.RevokeAllTokens(ctx, "", "")
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDisableAccountRevokesSessions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	reg := env.registerVerified(t, testEmail)

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	require.NoError(t, env.engine.DisableAccount(ctx, reg.UserID))
	_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Equal(t, uint64(1), env.metric(MetricAccountDisabled))

	require.ErrorIs(t, env.engine.DisableAccount(ctx, "missing"), ErrNotFound)
}
