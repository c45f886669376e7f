package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// DisableAccount deactivates userID and revokes every refresh token.
// Access tokens already issued stay valid until they expire.
func (e *Engine) DisableAccount(ctx context.Context, userID string) error {
	revoked, err := e.setAccountActive(ctx, userID, false)
	if err == nil {
		e.metricInc(MetricAccountDisabled)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, userID, "", err, func() map[string]string {
		return map[string]string{
			"action":           "disable",
			"sessions_revoked": strconv.FormatInt(revoked, 10),
		}
	})
	return err
}

// EnableAccount reactivates userID. It does not touch verification or
// lockout state.
func (e *Engine) EnableAccount(ctx context.Context, userID string) error {
	_, err := e.setAccountActive(ctx, userID, true)
	if err == nil {
		e.metricInc(MetricAccountEnabled)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, userID, "", err, func() map[string]string {
		return map[string]string{
			"action": "enable",
		}
	})
	return err
}

func (e *Engine) setAccountActive(ctx context.Context, userID string, active bool) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, ErrNotFound
	}

	current, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, e.internalError("account_status.lookup", err, zap.String("user_id", userID))
	}

	if current.Active != active {
		if err := e.users.UpdateUser(ctx, userID, store.UserPatch{Active: &active}, e.now()); err != nil {
			return 0, e.internalError("account_status.update", err, zap.String("user_id", userID))
		}
	}
	if active {
		return 0, nil
	}

	// Revoke even when already inactive: a token minted concurrently with an
	// earlier disable must not survive.
	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, session.ReasonAccountDisabled)
	if err != nil {
		return 0, e.internalError("account_status.revoke_sessions", err, zap.String("user_id", userID))
	}
	return revoked, nil
}
