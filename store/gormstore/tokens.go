package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"gorm.io/gorm"
)

// InsertRefreshToken inserts t.
func (s *Store) InsertRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	if t == nil || t.TokenHash == "" || t.UserID == "" {
		return errors.New("gormstore: refresh token hash and user id are required")
	}
	model := toRefreshTokenModel(t)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("gormstore: insert refresh token: %w", err)
	}
	return nil
}

// RefreshTokenByHash loads a refresh token by hash.
func (s *Store) RefreshTokenByHash(ctx context.Context, hash string) (*store.RefreshToken, error) {
	if hash == "" {
		return nil, store.ErrNotFound
	}
	var model refreshTokenModel
	err := s.db.WithContext(ctx).Where("token_hash = ?", hash).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: find refresh token: %w", err)
	}
	t := model.toStore()
	return &t, nil
}

// RevokeRefreshToken revokes hash iff revoked_at is still NULL.
func (s *Store) RevokeRefreshToken(ctx context.Context, hash string, rev store.Revocation) (bool, error) {
	if hash == "" {
		return false, nil
	}
	at := rev.At.UTC()
	query := s.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash)
	if rev.RequireUnexpired {
		query = query.Where("expires_at > ?", at)
	}

	result := query.Updates(map[string]any{
		"revoked_at":        at,
		"revocation_reason": rev.Reason,
		"replaced_by":       rev.ReplacedBy,
	})
	if result.Error != nil {
		return false, fmt.Errorf("gormstore: revoke refresh token: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RevokeUserRefreshTokens revokes every token of userID active at rev.At.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, rev store.Revocation) (int64, error) {
	at := rev.At.UTC()
	result := s.db.WithContext(ctx).
		Model(&refreshTokenModel{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, at).
		Updates(map[string]any{
			"revoked_at":        at,
			"revocation_reason": rev.Reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("gormstore: revoke user refresh tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ActiveRefreshTokens lists userID's active tokens, newest first.
func (s *Store) ActiveRefreshTokens(ctx context.Context, userID string, now time.Time) ([]store.RefreshToken, error) {
	var models []refreshTokenModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now.UTC()).
		Order("issued_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: list refresh tokens: %w", err)
	}
	out := make([]store.RefreshToken, 0, len(models))
	for _, m := range models {
		out = append(out, m.toStore())
	}
	return out, nil
}

// InsertEphemeralToken inserts t.
func (s *Store) InsertEphemeralToken(ctx context.Context, t *store.EphemeralToken) error {
	if t == nil || t.TokenHash == "" || t.UserID == "" || !t.Kind.Valid() {
		return errors.New("gormstore: ephemeral token hash, user id and kind are required")
	}
	model := toEphemeralTokenModel(t)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("gormstore: insert ephemeral token: %w", err)
	}
	return nil
}

// ConsumeEphemeralToken sets used_at under a guard on kind, used_at and
// expires_at. Only the statement that flips used_at sees RowsAffected == 1;
// the record is immutable afterwards, so the reload is stable.
func (s *Store) ConsumeEphemeralToken(ctx context.Context, kind store.EphemeralKind, hash string, now time.Time) (*store.EphemeralToken, error) {
	if hash == "" {
		return nil, store.ErrNotFound
	}
	now = now.UTC()

	result := s.db.WithContext(ctx).
		Model(&ephemeralTokenModel{}).
		Where("token_hash = ? AND kind = ? AND used_at IS NULL AND expires_at > ?", hash, string(kind), now).
		Update("used_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("gormstore: consume ephemeral token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, store.ErrNotFound
	}

	var model ephemeralTokenModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).Take(&model).Error; err != nil {
		return nil, fmt.Errorf("gormstore: reload ephemeral token: %w", err)
	}
	return model.toStore(), nil
}

// InvalidateEphemeralTokens marks userID's valid tokens of kind used.
func (s *Store) InvalidateEphemeralTokens(ctx context.Context, userID string, kind store.EphemeralKind, now time.Time) (int64, error) {
	now = now.UTC()
	result := s.db.WithContext(ctx).
		Model(&ephemeralTokenModel{}).
		Where("user_id = ? AND kind = ? AND used_at IS NULL AND expires_at > ?", userID, string(kind), now).
		Update("used_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("gormstore: invalidate ephemeral tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeExpired physically deletes tokens that expired before the cutoff.
func (s *Store) PurgeExpired(ctx context.Context, before time.Time) (store.PurgeStats, error) {
	before = before.UTC()
	stats := store.PurgeStats{}

	if result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&refreshTokenModel{}); result.Error != nil {
		return stats, fmt.Errorf("gormstore: purge refresh tokens: %w", result.Error)
	} else {
		stats.RefreshTokens = result.RowsAffected
	}

	if result := s.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&ephemeralTokenModel{}); result.Error != nil {
		return stats, fmt.Errorf("gormstore: purge ephemeral tokens: %w", result.Error)
	} else {
		stats.EphemeralTokens = result.RowsAffected
	}

	return stats, nil
}
