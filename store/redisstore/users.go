package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
)

// CreateUser inserts u, claiming its email index key first.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u == nil || u.ID == "" || u.Email == "" {
		return errors.New("redisstore: user id and email are required")
	}
	args := append([]interface{}{u.ID}, userFields(u)...)
	res, err := createUserLua.Run(ctx, s.client, []string{s.userKey(u.ID), s.emailKey(u.Email)}, args...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res != 1 {
		return store.ErrDuplicate
	}
	return nil
}

// UserByID loads a user by id.
func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	if id == "" {
		return nil, store.ErrNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeUser(fields), nil
}

// UserByEmail resolves the email index, then loads the user.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	id, err := s.client.Get(ctx, s.emailKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.UserByID(ctx, id)
}

// UpdateUser applies patch in a single script call.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch, now time.Time) error {
	kv := []string{"updated_at", formatMillis(now)}
	if patch.PasswordHash != nil {
		kv = append(kv, "password_hash", *patch.PasswordHash)
	}
	if patch.EmailVerified != nil {
		kv = append(kv, "email_verified", formatBool(*patch.EmailVerified))
	}
	if patch.Active != nil {
		kv = append(kv, "active", formatBool(*patch.Active))
	}
	if patch.LastLoginAt != nil {
		kv = append(kv, "last_login_at", formatMillis(*patch.LastLoginAt))
	}
	if patch.ClearLoginFailures {
		kv = append(kv, "failed_login_count", "0", "lockout_until", "0")
	}

	res, err := updateUserLua.Run(ctx, s.client, []string{s.userKey(id)}, pairs(kv...)...).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordLoginFailure increments the failure counter inside one script.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, lockout time.Duration) (store.LoginFailure, error) {
	res, err := recordFailureLua.Run(
		ctx,
		s.client,
		[]string{s.userKey(id)},
		formatMillis(now),
		strconv.Itoa(threshold),
		formatMillis(now.Add(lockout)),
	).Slice()
	if err != nil {
		return store.LoginFailure{}, unavailable(err)
	}
	if len(res) != 3 {
		return store.LoginFailure{}, unavailable(fmt.Errorf("unexpected script reply length %d", len(res)))
	}

	count, _ := res[0].(int64)
	if count < 0 {
		return store.LoginFailure{}, store.ErrNotFound
	}
	locked, _ := res[1].(int64)
	until, _ := res[2].(string)

	return store.LoginFailure{
		Count:        int(count),
		LockoutUntil: parseOptionalMillis(until),
		Locked:       locked == 1,
	}, nil
}

func userFields(u *store.User) []interface{} {
	return pairs(
		"id", u.ID,
		"email", u.Email,
		"password_hash", u.PasswordHash,
		"first_name", u.FirstName,
		"last_name", u.LastName,
		"role", string(u.Role),
		"email_verified", formatBool(u.EmailVerified),
		"active", formatBool(u.Active),
		"created_at", formatMillis(u.CreatedAt),
		"updated_at", formatMillis(u.UpdatedAt),
		"last_login_at", formatOptionalMillis(u.LastLoginAt),
		"failed_login_count", strconv.Itoa(u.FailedLoginCount),
		"lockout_until", formatOptionalMillis(u.LockoutUntil),
	)
}

func decodeUser(f map[string]string) *store.User {
	count, _ := strconv.Atoi(f["failed_login_count"])
	return &store.User{
		ID:               f["id"],
		Email:            f["email"],
		PasswordHash:     f["password_hash"],
		FirstName:        f["first_name"],
		LastName:         f["last_name"],
		Role:             store.Role(f["role"]),
		EmailVerified:    f["email_verified"] == "1",
		Active:           f["active"] == "1",
		CreatedAt:        parseMillis(f["created_at"]),
		UpdatedAt:        parseMillis(f["updated_at"]),
		LastLoginAt:      parseOptionalMillis(f["last_login_at"]),
		FailedLoginCount: count,
		LockoutUntil:     parseOptionalMillis(f["lockout_until"]),
	}
}
