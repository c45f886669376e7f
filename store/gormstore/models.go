package gormstore

import (
	"time"

	"github.com/MrEthical07/authcore/store"
)

type userModel struct {
	ID               string    `gorm:"primaryKey;size:36"`
	Email            string    `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash     string    `gorm:"size:255;not null"`
	FirstName        string    `gorm:"size:100"`
	LastName         string    `gorm:"size:100"`
	Role             string    `gorm:"size:16;not null;default:standard"`
	EmailVerified    bool      `gorm:"not null;default:false"`
	Active           bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	LastLoginAt      *time.Time
	FailedLoginCount int `gorm:"not null;default:0"`
	LockoutUntil     *time.Time
}

func (userModel) TableName() string { return "auth_users" }

type refreshTokenModel struct {
	ID               string    `gorm:"primaryKey;size:36"`
	UserID           string    `gorm:"size:36;not null;index"`
	TokenHash        string    `gorm:"size:64;not null;uniqueIndex"`
	IssuedAt         time.Time `gorm:"not null"`
	ExpiresAt        time.Time `gorm:"not null;index"`
	RevokedAt        *time.Time
	ReplacedBy       string `gorm:"size:64"`
	RevocationReason string `gorm:"size:255"`
	IP               string `gorm:"size:64"`
	ClientInfo       string `gorm:"size:512"`
}

func (refreshTokenModel) TableName() string { return "auth_refresh_tokens" }

type ephemeralTokenModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Kind      string    `gorm:"size:32;not null;index:idx_auth_ephemeral_owner,priority:2"`
	UserID    string    `gorm:"size:36;not null;index:idx_auth_ephemeral_owner,priority:1"`
	TokenHash string    `gorm:"size:64;not null;uniqueIndex"`
	Email     string    `gorm:"size:320"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UsedAt    *time.Time
	IP        string `gorm:"size:64"`
}

func (ephemeralTokenModel) TableName() string { return "auth_ephemeral_tokens" }

func toUserModel(u *store.User) userModel {
	return userModel{
		ID:               u.ID,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Role:             string(u.Role),
		EmailVerified:    u.EmailVerified,
		Active:           u.Active,
		CreatedAt:        u.CreatedAt.UTC(),
		UpdatedAt:        u.UpdatedAt.UTC(),
		LastLoginAt:      utcPtr(u.LastLoginAt),
		FailedLoginCount: u.FailedLoginCount,
		LockoutUntil:     utcPtr(u.LockoutUntil),
	}
}

func (m userModel) toStore() *store.User {
	return &store.User{
		ID:               m.ID,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		FirstName:        m.FirstName,
		LastName:         m.LastName,
		Role:             store.Role(m.Role),
		EmailVerified:    m.EmailVerified,
		Active:           m.Active,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
		LastLoginAt:      utcPtr(m.LastLoginAt),
		FailedLoginCount: m.FailedLoginCount,
		LockoutUntil:     utcPtr(m.LockoutUntil),
	}
}

func toRefreshTokenModel(t *store.RefreshToken) refreshTokenModel {
	return refreshTokenModel{
		ID:               t.ID,
		UserID:           t.UserID,
		TokenHash:        t.TokenHash,
		IssuedAt:         t.IssuedAt.UTC(),
		ExpiresAt:        t.ExpiresAt.UTC(),
		RevokedAt:        utcPtr(t.RevokedAt),
		ReplacedBy:       t.ReplacedBy,
		RevocationReason: t.RevocationReason,
		IP:               t.IP,
		ClientInfo:       t.ClientInfo,
	}
}

func (m refreshTokenModel) toStore() store.RefreshToken {
	return store.RefreshToken{
		ID:               m.ID,
		UserID:           m.UserID,
		TokenHash:        m.TokenHash,
		IssuedAt:         m.IssuedAt.UTC(),
		ExpiresAt:        m.ExpiresAt.UTC(),
		RevokedAt:        utcPtr(m.RevokedAt),
		ReplacedBy:       m.ReplacedBy,
		RevocationReason: m.RevocationReason,
		IP:               m.IP,
		ClientInfo:       m.ClientInfo,
	}
}

func toEphemeralTokenModel(t *store.EphemeralToken) ephemeralTokenModel {
	return ephemeralTokenModel{
		ID:        t.ID,
		Kind:      string(t.Kind),
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		Email:     t.Email,
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
		UsedAt:    utcPtr(t.UsedAt),
		IP:        t.IP,
	}
}

func (m ephemeralTokenModel) toStore() *store.EphemeralToken {
	return &store.EphemeralToken{
		ID:        m.ID,
		Kind:      store.EphemeralKind(m.Kind),
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		Email:     m.Email,
		ExpiresAt: m.ExpiresAt.UTC(),
		CreatedAt: m.CreatedAt.UTC(),
		UsedAt:    utcPtr(m.UsedAt),
		IP:        m.IP,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
