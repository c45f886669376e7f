// Package storetest is a conformance suite for store backends.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Stores

// Run executes every conformance case against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Stores)
	}{
		{"UserCreateAndLookup", testUserCreateAndLookup},
		{"UserDuplicateEmail", testUserDuplicateEmail},
		{"UserUpdatePatch", testUserUpdatePatch},
		{"UserUpdateMissing", testUserUpdateMissing},
		{"LoginFailureLocksAtThreshold", testLoginFailureLocksAtThreshold},
		{"LoginFailureResetsElapsedLockout", testLoginFailureResetsElapsedLockout},
		{"LoginFailureConcurrentNoLostUpdates", testLoginFailureConcurrent},
		{"RefreshInsertAndLookup", testRefreshInsertAndLookup},
		{"RefreshRevokeOnce", testRefreshRevokeOnce},
		{"RefreshRevokeRequiresUnexpired", testRefreshRevokeRequiresUnexpired},
		{"RefreshRevokeConcurrentSingleWinner", testRefreshRevokeConcurrent},
		{"RefreshRevokeAllActiveOnly", testRefreshRevokeAll},
		{"RefreshListActive", testRefreshListActive},
		{"EphemeralConsumeOnce", testEphemeralConsumeOnce},
		{"EphemeralConsumeGuards", testEphemeralConsumeGuards},
		{"EphemeralConsumeConcurrentSingleWinner", testEphemeralConsumeConcurrent},
		{"EphemeralInvalidate", testEphemeralInvalidate},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, factory(t))
		})
	}
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newUser(now time.Time, email string) *store.User {
	return &store.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderpla",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Role:         store.RoleStandard,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newRefresh(userID string, issued time.Time, ttl time.Duration) *store.RefreshToken {
	return &store.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenHash:  uuid.NewString(),
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(ttl),
		IP:         "203.0.113.7",
		ClientInfo: "storetest",
	}
}

func newEphemeral(userID string, kind store.EphemeralKind, created time.Time, ttl time.Duration) *store.EphemeralToken {
	return &store.EphemeralToken{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		TokenHash: uuid.NewString(),
		Email:     "owner@example.com",
		ExpiresAt: created.Add(ttl),
		CreatedAt: created,
		IP:        "203.0.113.7",
	}
}

func testUserCreateAndLookup(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	u := newUser(now, "ada@example.com")
	require.NoError(t, s.Users.CreateUser(ctx, u))

	byID, err := s.Users.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byID.Email)
	assert.Equal(t, u.PasswordHash, byID.PasswordHash)
	assert.Equal(t, store.RoleStandard, byID.Role)
	assert.True(t, byID.Active)
	assert.False(t, byID.EmailVerified)
	assert.Nil(t, byID.LastLoginAt)
	assert.Nil(t, byID.LockoutUntil)
	assert.WithinDuration(t, now, byID.CreatedAt, time.Millisecond)

	byEmail, err := s.Users.UserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.Users.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Users.UserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUserDuplicateEmail(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	require.NoError(t, s.Users.CreateUser(ctx, newUser(now, "dup@example.com")))
	err := s.Users.CreateUser(ctx, newUser(now, "dup@example.com"))
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testUserUpdatePatch(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	u := newUser(now, "patch@example.com")
	require.NoError(t, s.Users.CreateUser(ctx, u))

	_, err := s.Users.RecordLoginFailure(ctx, u.ID, now, 1, time.Minute)
	require.NoError(t, err)

	hash := "new-hash"
	verified := true
	active := false
	login := now.Add(time.Minute)
	require.NoError(t, s.Users.UpdateUser(ctx, u.ID, store.UserPatch{
		PasswordHash:       &hash,
		EmailVerified:      &verified,
		Active:             &active,
		LastLoginAt:        &login,
		ClearLoginFailures: true,
	}, now.Add(2*time.Minute)))

	got, err := s.Users.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.True(t, got.EmailVerified)
	assert.False(t, got.Active)
	require.NotNil(t, got.LastLoginAt)
	assert.WithinDuration(t, login, *got.LastLoginAt, time.Millisecond)
	assert.Equal(t, 0, got.FailedLoginCount)
	assert.Nil(t, got.LockoutUntil)
	assert.WithinDuration(t, now.Add(2*time.Minute), got.UpdatedAt, time.Millisecond)
	assert.Equal(t, "Ada", got.FirstName)
}

func testUserUpdateMissing(t *testing.T, s store.Stores) {
	verified := true
	err := s.Users.UpdateUser(context.Background(), uuid.NewString(), store.UserPatch{EmailVerified: &verified}, baseTime())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Users.RecordLoginFailure(context.Background(), uuid.NewString(), baseTime(), 5, time.Minute)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testLoginFailureLocksAtThreshold(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	u := newUser(now, "lock@example.com")
	require.NoError(t, s.Users.CreateUser(ctx, u))

	for i := 1; i <= 4; i++ {
		f, err := s.Users.RecordLoginFailure(ctx, u.ID, now, 5, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, f.Count)
		assert.False(t, f.Locked)
		assert.Nil(t, f.LockoutUntil)
	}

	f, err := s.Users.RecordLoginFailure(ctx, u.ID, now, 5, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, f.Count)
	assert.True(t, f.Locked)
	require.NotNil(t, f.LockoutUntil)
	assert.WithinDuration(t, now.Add(30*time.Minute), *f.LockoutUntil, time.Millisecond)

	// A further failure inside the window does not re-arm the lock.
	f, err = s.Users.RecordLoginFailure(ctx, u.ID, now.Add(time.Minute), 5, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 6, f.Count)
	assert.False(t, f.Locked)
	require.NotNil(t, f.LockoutUntil)
	assert.WithinDuration(t, now.Add(30*time.Minute), *f.LockoutUntil, time.Millisecond)

	got, err := s.Users.UserByID(ctx, u.ID)
	require.NoError(t, err)
	remaining, locked := got.LockedUntil(now.Add(10 * time.Minute))
	assert.True(t, locked)
	assert.Equal(t, 20*time.Minute, remaining.Round(time.Second))
}

func testLoginFailureResetsElapsedLockout(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	u := newUser(now, "elapsed@example.com")
	require.NoError(t, s.Users.CreateUser(ctx, u))

	for i := 0; i < 2; i++ {
		_, err := s.Users.RecordLoginFailure(ctx, u.ID, now, 2, time.Minute)
		require.NoError(t, err)
	}

	f, err := s.Users.RecordLoginFailure(ctx, u.ID, now.Add(2*time.Minute), 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Count)
	assert.False(t, f.Locked)
	assert.Nil(t, f.LockoutUntil)
}

func testLoginFailureConcurrent(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	u := newUser(now, "race@example.com")
	require.NoError(t, s.Users.CreateUser(ctx, u))

	const workers = 16
	var (
		wg     sync.WaitGroup
		locked atomic.Int32
		start  = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			f, err := s.Users.RecordLoginFailure(ctx, u.ID, now, 5, time.Hour)
			if !assert.NoError(t, err) {
				return
			}
			if f.Locked {
				locked.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	got, err := s.Users.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.FailedLoginCount)
	assert.Equal(t, int32(1), locked.Load())
	require.NotNil(t, got.LockoutUntil)
}

func testRefreshInsertAndLookup(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	rt := newRefresh("user-1", now, time.Hour)
	require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))
	assert.ErrorIs(t, s.RefreshTokens.InsertRefreshToken(ctx, rt), store.ErrDuplicate)

	got, err := s.RefreshTokens.RefreshTokenByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "203.0.113.7", got.IP)
	assert.Equal(t, "storetest", got.ClientInfo)
	assert.Nil(t, got.RevokedAt)
	assert.Empty(t, got.ReplacedBy)
	assert.True(t, got.ActiveAt(now))
	assert.WithinDuration(t, rt.ExpiresAt, got.ExpiresAt, time.Millisecond)

	_, err = s.RefreshTokens.RefreshTokenByHash(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRefreshRevokeOnce(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	rt := newRefresh("user-1", now, time.Hour)
	require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))

	ok, err := s.RefreshTokens.RevokeRefreshToken(ctx, rt.TokenHash, store.Revocation{At: now, Reason: "rotated", ReplacedBy: "next-hash"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RefreshTokens.RevokeRefreshToken(ctx, rt.TokenHash, store.Revocation{At: now.Add(time.Second), Reason: "logout"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.RefreshTokens.RefreshTokenByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.WithinDuration(t, now, *got.RevokedAt, time.Millisecond)
	assert.Equal(t, "rotated", got.RevocationReason)
	assert.Equal(t, "next-hash", got.ReplacedBy)

	ok, err = s.RefreshTokens.RevokeRefreshToken(ctx, "missing", store.Revocation{At: now, Reason: "logout"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRefreshRevokeRequiresUnexpired(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	rt := newRefresh("user-1", now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))

	ok, err := s.RefreshTokens.RevokeRefreshToken(ctx, rt.TokenHash, store.Revocation{At: now, Reason: "rotated", RequireUnexpired: true})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RefreshTokens.RevokeRefreshToken(ctx, rt.TokenHash, store.Revocation{At: now, Reason: "logout"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func testRefreshRevokeConcurrent(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	rt := newRefresh("user-1", now, time.Hour)
	require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.RefreshTokens.RevokeRefreshToken(ctx, rt.TokenHash, store.Revocation{
				At:               now,
				Reason:           "rotated",
				ReplacedBy:       uuid.NewString(),
				RequireUnexpired: true,
			})
			if assert.NoError(t, err) && ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func testRefreshRevokeAll(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()

	active1 := newRefresh("owner", now, time.Hour)
	active2 := newRefresh("owner", now.Add(time.Second), time.Hour)
	expired := newRefresh("owner", now.Add(-2*time.Hour), time.Hour)
	revoked := newRefresh("owner", now, time.Hour)
	other := newRefresh("someone-else", now, time.Hour)
	for _, rt := range []*store.RefreshToken{active1, active2, expired, revoked, other} {
		require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))
	}
	_, err := s.RefreshTokens.RevokeRefreshToken(ctx, revoked.TokenHash, store.Revocation{At: now, Reason: "logout"})
	require.NoError(t, err)

	n, err := s.RefreshTokens.RevokeUserRefreshTokens(ctx, "owner", store.Revocation{At: now.Add(time.Minute), Reason: "password-reset"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, rt := range []*store.RefreshToken{active1, active2} {
		got, err := s.RefreshTokens.RefreshTokenByHash(ctx, rt.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		assert.Equal(t, "password-reset", got.RevocationReason)
	}

	got, err := s.RefreshTokens.RefreshTokenByHash(ctx, revoked.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "logout", got.RevocationReason)

	got, err = s.RefreshTokens.RefreshTokenByHash(ctx, expired.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, got.RevokedAt)

	got, err = s.RefreshTokens.RefreshTokenByHash(ctx, other.TokenHash)
	require.NoError(t, err)
	assert.True(t, got.ActiveAt(now))

	n, err = s.RefreshTokens.RevokeUserRefreshTokens(ctx, "owner", store.Revocation{At: now.Add(time.Minute), Reason: "again"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testRefreshListActive(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	older := newRefresh("lister", now, time.Hour)
	newer := newRefresh("lister", now.Add(time.Second), time.Hour)
	expired := newRefresh("lister", now.Add(-2*time.Hour), time.Hour)
	for _, rt := range []*store.RefreshToken{older, newer, expired} {
		require.NoError(t, s.RefreshTokens.InsertRefreshToken(ctx, rt))
	}

	list, err := s.RefreshTokens.ActiveRefreshTokens(ctx, "lister", now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.TokenHash, list[0].TokenHash)
	assert.Equal(t, older.TokenHash, list[1].TokenHash)

	list, err = s.RefreshTokens.ActiveRefreshTokens(ctx, "nobody", now)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testEphemeralConsumeOnce(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	et := newEphemeral("user-1", store.KindEmailVerification, now, 24*time.Hour)
	require.NoError(t, s.Ephemeral.InsertEphemeralToken(ctx, et))

	got, err := s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindEmailVerification, et.TokenHash, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "owner@example.com", got.Email)
	require.NotNil(t, got.UsedAt)
	assert.WithinDuration(t, now.Add(time.Minute), *got.UsedAt, time.Millisecond)

	_, err = s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindEmailVerification, et.TokenHash, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testEphemeralConsumeGuards(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()

	reset := newEphemeral("user-1", store.KindPasswordReset, now, time.Hour)
	require.NoError(t, s.Ephemeral.InsertEphemeralToken(ctx, reset))

	_, err := s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindEmailVerification, reset.TokenHash, now)
	assert.ErrorIs(t, err, store.ErrNotFound, "kind mismatch must not consume")

	_, err = s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindPasswordReset, reset.TokenHash, now.Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrNotFound, "expiry boundary is exclusive")

	_, err = s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindPasswordReset, "missing", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindPasswordReset, reset.TokenHash, now.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, store.KindPasswordReset, got.Kind)
}

func testEphemeralConsumeConcurrent(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()
	et := newEphemeral("user-1", store.KindPasswordReset, now, time.Hour)
	require.NoError(t, s.Ephemeral.InsertEphemeralToken(ctx, et))

	const workers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindPasswordReset, et.TokenHash, now)
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, store.ErrNotFound)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func testEphemeralInvalidate(t *testing.T, s store.Stores) {
	ctx := context.Background()
	now := baseTime()

	first := newEphemeral("user-1", store.KindEmailVerification, now, 24*time.Hour)
	second := newEphemeral("user-1", store.KindEmailVerification, now, 24*time.Hour)
	reset := newEphemeral("user-1", store.KindPasswordReset, now, time.Hour)
	foreign := newEphemeral("user-2", store.KindEmailVerification, now, 24*time.Hour)
	for _, et := range []*store.EphemeralToken{first, second, reset, foreign} {
		require.NoError(t, s.Ephemeral.InsertEphemeralToken(ctx, et))
	}

	n, err := s.Ephemeral.InvalidateEphemeralTokens(ctx, "user-1", store.KindEmailVerification, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, et := range []*store.EphemeralToken{first, second} {
		_, err := s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindEmailVerification, et.TokenHash, now)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	_, err = s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindPasswordReset, reset.TokenHash, now)
	assert.NoError(t, err)
	_, err = s.Ephemeral.ConsumeEphemeralToken(ctx, store.KindEmailVerification, foreign.TokenHash, now)
	assert.NoError(t, err)
}
