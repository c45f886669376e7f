package gormstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(Config{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Stores {
		return newTestStore(t).Stores()
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")

	_, err = Open(Config{Driver: DriverPostgres})
	require.Error(t, err)
}

func TestPurgeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &store.RefreshToken{ID: "old", UserID: "u", TokenHash: "h-old", IssuedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)}
	fresh := &store.RefreshToken{ID: "fresh", UserID: "u", TokenHash: "h-fresh", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.InsertRefreshToken(ctx, old))
	require.NoError(t, s.InsertRefreshToken(ctx, fresh))

	stale := &store.EphemeralToken{ID: "e-old", Kind: store.KindPasswordReset, UserID: "u", TokenHash: "e-h-old", CreatedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(-2 * time.Hour)}
	require.NoError(t, s.InsertEphemeralToken(ctx, stale))

	stats, err := s.PurgeExpired(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RefreshTokens)
	assert.Equal(t, int64(1), stats.EphemeralTokens)

	_, err = s.RefreshTokenByHash(ctx, "h-old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.RefreshTokenByHash(ctx, "h-fresh")
	assert.NoError(t, err)
}
