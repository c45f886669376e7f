package redisstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
)

// InsertRefreshToken stores t under its hash and indexes it by owner.
func (s *Store) InsertRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	if t == nil || t.TokenHash == "" || t.UserID == "" {
		return errors.New("redisstore: refresh token hash and user id are required")
	}
	args := append(
		[]interface{}{t.TokenHash, s.expireAt(t.ExpiresAt)},
		pairs(
			"id", t.ID,
			"user_id", t.UserID,
			"token_hash", t.TokenHash,
			"issued_at", formatMillis(t.IssuedAt),
			"expires_at", formatMillis(t.ExpiresAt),
			"revoked_at", formatOptionalMillis(t.RevokedAt),
			"replaced_by", t.ReplacedBy,
			"revocation_reason", t.RevocationReason,
			"ip", t.IP,
			"client_info", t.ClientInfo,
		)...,
	)
	res, err := insertTokenLua.Run(ctx, s.client, []string{s.refreshKey(t.TokenHash), s.refreshIndexKey(t.UserID)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// RefreshTokenByHash loads a refresh token record.
func (s *Store) RefreshTokenByHash(ctx context.Context, hash string) (*store.RefreshToken, error) {
	if hash == "" {
		return nil, store.ErrNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.refreshKey(hash)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeRefreshToken(fields), nil
}

// RevokeRefreshToken revokes hash only if it is not revoked yet.
func (s *Store) RevokeRefreshToken(ctx context.Context, hash string, rev store.Revocation) (bool, error) {
	if hash == "" {
		return false, nil
	}
	requireUnexpired := "0"
	if rev.RequireUnexpired {
		requireUnexpired = "1"
	}
	res, err := revokeTokenLua.Run(
		ctx,
		s.client,
		[]string{s.refreshKey(hash)},
		formatMillis(rev.At),
		rev.Reason,
		rev.ReplacedBy,
		requireUnexpired,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return res == 1, nil
}

// RevokeUserRefreshTokens revokes every active token in the owner index.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, rev store.Revocation) (int64, error) {
	n, err := markAllLua.Run(
		ctx,
		s.client,
		[]string{s.refreshIndexKey(userID)},
		formatMillis(rev.At),
		s.refreshPrefix(),
		"revoked_at",
		"revocation_reason",
		rev.Reason,
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ActiveRefreshTokens lists the owner's tokens active at now.
func (s *Store) ActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]store.RefreshToken, error) {
	members, err := s.client.SMembers(ctx, s.refreshIndexKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			cmds = append(cmds, pipe.HGetAll(ctx, s.refreshKey(member)))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]store.RefreshToken, 0, len(cmds))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t := decodeRefreshToken(fields)
		if t.ActiveAt(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

func decodeRefreshToken(f map[string]string) *store.RefreshToken {
	return &store.RefreshToken{
		ID:               f["id"],
		UserID:           f["user_id"],
		TokenHash:        f["token_hash"],
		IssuedAt:         parseMillis(f["issued_at"]),
		ExpiresAt:        parseMillis(f["expires_at"]),
		RevokedAt:        parseOptionalMillis(f["revoked_at"]),
		ReplacedBy:       f["replaced_by"],
		RevocationReason: f["revocation_reason"],
		IP:               f["ip"],
		ClientInfo:       f["client_info"],
	}
}
