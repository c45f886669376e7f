package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// InsertEphemeralToken stores t under its hash and indexes it by owner and kind.
func (s *Store) InsertEphemeralToken(ctx context.Context, t *store.EphemeralToken) error {
	if t == nil || t.TokenHash == "" || t.UserID == "" || !t.Kind.Valid() {
		return errors.New("redisstore: ephemeral token hash, user id and kind are required")
	}
	args := append(
		[]interface{}{t.TokenHash, s.expireAt(t.ExpiresAt)},
		pairs(
			"id", t.ID,
			"kind", string(t.Kind),
			"user_id", t.UserID,
			"token_hash", t.TokenHash,
			"email", t.Email,
			"expires_at", formatMillis(t.ExpiresAt),
			"created_at", formatMillis(t.CreatedAt),
			"used_at", formatOptionalMillis(t.UsedAt),
			"ip", t.IP,
		)...,
	)
	res, err := insertTokenLua.Run(ctx, s.client, []string{s.ephemeralKey(t.TokenHash), s.ephemeralIndexKey(t.UserID, t.Kind)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// ConsumeEphemeralToken marks the token used when the script guard passes,
// then reads the record back. used_at is write-once, so the read is stable.
func (s *Store) ConsumeEphemeralToken(ctx context.Context, kind store.EphemeralKind, hash string, now time.Time) (*store.EphemeralToken, error) {
	if hash == "" {
		return nil, store.ErrNotFound
	}
	key := s.ephemeralKey(hash)
	res, err := consumeTokenLua.Run(ctx, s.client, []string{key}, formatMillis(now), string(kind)).Int64()
	if err != nil {
		return nil, unavailable(err)
	}
	if res == 0 {
		return nil, store.ErrNotFound
	}

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeEphemeralToken(fields), nil
}

// InvalidateEphemeralTokens marks every valid token of kind for userID used.
func (s *Store) InvalidateEphemeralTokens(ctx context.Context, userID string, kind store.EphemeralKind, now time.Time) (int64, error) {
	n, err := markAllLua.Run(
		ctx,
		s.client,
		[]string{s.ephemeralIndexKey(userID, kind)},
		formatMillis(now),
		s.ephemeralPrefix(),
		"used_at",
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func decodeEphemeralToken(f map[string]string) *store.EphemeralToken {
	return &store.EphemeralToken{
		ID:        f["id"],
		Kind:      store.EphemeralKind(f["kind"]),
		UserID:    f["user_id"],
		TokenHash: f["token_hash"],
		Email:     f["email"],
		ExpiresAt: parseMillis(f["expires_at"]),
		CreatedAt: parseMillis(f["created_at"]),
		UsedAt:    parseOptionalMillis(f["used_at"]),
		IP:        f["ip"],
	}
}
