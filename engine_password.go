package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/ephemeral"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// ForgotPassword issues and mails a reset token when email belongs to an
// account. It returns nil whether or not the account exists.
func (e *Engine) ForgotPassword(ctx context.Context, email, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ip = requestIP(ctx, ip)

	user, err := e.users.UserByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", ip, nil, nil)
		return nil
	}
	if err != nil {
		return e.internalError("forgot_password.lookup", err)
	}

	issued, err := e.ephemeral.IssuePasswordReset(ctx, user.ID, user.Email, ip)
	if err != nil {
		e.logger.Error("issue reset token failed", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, ip, err, nil)
		return nil
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, ip, nil, nil)
	e.notifyFailed("password_reset", user.ID, e.notifier.SendPasswordReset(ctx, recipientOf(user), issued.Token))
	return nil
}

// ResetPassword sets a new password through a reset token. Strength is
// checked before the token is consumed, so a weak attempt leaves the token
// usable. On success every refresh token of the user is revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ip = requestIP(ctx, ip)

	user, revoked, err := e.resetPassword(ctx, token, newPassword)
	userID := ""
	if user != nil {
		userID = user.ID
	}
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, ip, err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, userID, ip, nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
	})
	e.notifyFailed("password_changed", userID, e.notifier.SendPasswordChangedNotice(ctx, recipientOf(user)))
	return nil
}

func (e *Engine) resetPassword(ctx context.Context, token, newPassword string) (*store.User, int64, error) {
	if violations := e.policy.Validate(newPassword); len(violations) > 0 {
		return nil, 0, &WeakPasswordError{Violations: violations}
	}

	identity, err := e.ephemeral.Consume(ctx, store.KindPasswordReset, token)
	if errors.Is(err, ephemeral.ErrInvalidOrExpired) {
		return nil, 0, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, 0, e.internalError("reset_password.consume", err)
	}

	user, err := e.users.UserByID(ctx, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, 0, e.internalError("reset_password.lookup", err, zap.String("user_id", identity.UserID))
	}

	if err := e.replacePassword(ctx, user, newPassword, "reset_password"); err != nil {
		return user, 0, err
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, user.ID, session.ReasonPasswordReset)
	if err != nil {
		return user, 0, e.internalError("reset_password.revoke_sessions", err, zap.String("user_id", user.ID))
	}
	e.metricInc(MetricLogoutAll)
	return user, revoked, nil
}

// ChangePassword replaces the password of an authenticated user. Existing
// sessions stay valid.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	user, err := e.changePassword(ctx, userID, currentPassword, newPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			e.metricInc(MetricPasswordChangeInvalidOld)
		case errors.Is(err, ErrPasswordUnchanged):
			e.metricInc(MetricPasswordChangeReuseRejected)
		}
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, "", nil, nil)
	e.notifyFailed("password_changed", userID, e.notifier.SendPasswordChangedNotice(ctx, recipientOf(user)))
	return nil
}

func (e *Engine) changePassword(ctx context.Context, userID, currentPassword, newPassword string) (*store.User, error) {
	user, err := e.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, e.internalError("change_password.lookup", err, zap.String("user_id", userID))
	}

	if !e.hasher.Verify(currentPassword, user.PasswordHash) {
		return user, ErrInvalidCredentials
	}
	// Compared through the hash so equivalence follows the hasher, not
	// byte equality.
	if e.hasher.Verify(newPassword, user.PasswordHash) {
		return user, ErrPasswordUnchanged
	}
	if violations := e.policy.Validate(newPassword); len(violations) > 0 {
		return user, &WeakPasswordError{Violations: violations}
	}

	if err := e.replacePassword(ctx, user, newPassword, "change_password"); err != nil {
		return user, err
	}
	return user, nil
}

// replacePassword hashes next, stores it and clears failure counters and
// lockout.
func (e *Engine) replacePassword(ctx context.Context, user *store.User, next, op string) error {
	hash, err := e.hasher.Hash(next)
	if err != nil {
		return e.internalError(op+".hash", err, zap.String("user_id", user.ID))
	}
	patch := store.UserPatch{
		PasswordHash:       &hash,
		ClearLoginFailures: true,
	}
	if err := e.users.UpdateUser(ctx, user.ID, patch, e.now()); err != nil {
		return e.internalError(op+".update", err, zap.String("user_id", user.ID))
	}
	user.PasswordHash = hash
	user.FailedLoginCount = 0
	user.LockoutUntil = nil
	return nil
}
