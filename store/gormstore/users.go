package gormstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/authcore/store"
	"gorm.io/gorm"
)

// CreateUser inserts u; the unique email index reports duplicates.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u == nil || u.ID == "" || u.Email == "" {
		return errors.New("gormstore: user id and email are required")
	}
	model := toUserModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("gormstore: create user: %w", err)
	}
	return nil
}

// UserByID loads a user by primary key.
func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// UserByEmail loads a user by normalized email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (*store.User, error) {
	if arg == "" {
		return nil, store.ErrNotFound
	}
	var model userModel
	err := s.db.WithContext(ctx).Where(query, arg).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: find user: %w", err)
	}
	return model.toStore(), nil
}

// UpdateUser applies patch with a single UPDATE.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch, now time.Time) error {
	updates := map[string]any{
		"updated_at": now.UTC(),
	}
	if patch.PasswordHash != nil {
		updates["password_hash"] = *patch.PasswordHash
	}
	if patch.EmailVerified != nil {
		updates["email_verified"] = *patch.EmailVerified
	}
	if patch.Active != nil {
		updates["active"] = *patch.Active
	}
	if patch.LastLoginAt != nil {
		updates["last_login_at"] = patch.LastLoginAt.UTC()
	}
	if patch.ClearLoginFailures {
		updates["failed_login_count"] = 0
		updates["lockout_until"] = nil
	}

	result := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("gormstore: update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordLoginFailure increments the counter and arms the lockout in one
// UPDATE. SET expressions read the pre-update row, so both CASE branches see
// the same lockout_until. The follow-up read runs in the same transaction,
// behind the row lock the UPDATE took.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (store.LoginFailure, error) {
	if threshold <= 0 {
		threshold = math.MaxInt32
	}
	now = now.UTC()
	lockUntil := now.Add(lockout).Truncate(time.Microsecond)

	const nextCount = "CASE WHEN lockout_until IS NOT NULL AND lockout_until <= ? THEN 1 ELSE failed_login_count + 1 END"

	var after userModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&userModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"failed_login_count": gorm.Expr(nextCount, now),
				"lockout_until": gorm.Expr(
					"CASE WHEN lockout_until IS NOT NULL AND lockout_until > ? THEN lockout_until WHEN ("+nextCount+") >= ? THEN ? ELSE NULL END",
					now, now, threshold, lockUntil,
				),
				"updated_at": now,
			})
		if result.Error != nil {
			return fmt.Errorf("gormstore: record login failure: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return store.ErrNotFound
		}
		if err := tx.Where("id = ?", id).Take(&after).Error; err != nil {
			return fmt.Errorf("gormstore: reload user: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.LoginFailure{}, err
	}

	failure := store.LoginFailure{
		Count:        after.FailedLoginCount,
		LockoutUntil: utcPtr(after.LockoutUntil),
	}
	failure.Locked = failure.Count == threshold &&
		failure.LockoutUntil != nil &&
		failure.LockoutUntil.Equal(lockUntil)
	return failure, nil
}
