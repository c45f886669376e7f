package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/ephemeral"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// VerifyEmail consumes a verification token and marks its owner verified.
// Verification is one-way; a welcome email is sent best-effort.
func (e *Engine) VerifyEmail(ctx context.Context, token, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ip = requestIP(ctx, ip)

	user, err := e.verifyEmail(ctx, token)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		userID := ""
		if user != nil {
			userID = user.ID
		}
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, ip, err, nil)
		return err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, user.ID, ip, nil, nil)
	e.notifyFailed("welcome", user.ID, e.notifier.SendWelcome(ctx, recipientOf(user)))
	return nil
}

func (e *Engine) verifyEmail(ctx context.Context, token string) (*store.User, error) {
	identity, err := e.ephemeral.Consume(ctx, store.KindEmailVerification, token)
	if errors.Is(err, ephemeral.ErrInvalidOrExpired) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, e.internalError("verify_email.consume", err)
	}

	user, err := e.users.UserByID(ctx, identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, e.internalError("verify_email.lookup", err, zap.String("user_id", identity.UserID))
	}
	// An email change after issue must not verify the new address.
	if user.Email != store.NormalizeEmail(identity.Email) {
		return user, ErrInvalidOrExpiredToken
	}

	if !user.EmailVerified {
		verified := true
		if err := e.users.UpdateUser(ctx, user.ID, store.UserPatch{EmailVerified: &verified}, e.now()); err != nil {
			return user, e.internalError("verify_email.update", err, zap.String("user_id", user.ID))
		}
		user.EmailVerified = true
	}
	return user, nil
}

// ResendVerification always returns nil for unknown or already verified
// emails so callers cannot probe which accounts exist. Only backend lookup
// failures surface, as ErrInternal.
func (e *Engine) ResendVerification(ctx context.Context, email, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ip = requestIP(ctx, ip)

	user, err := e.users.UserByEmail(ctx, store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return e.internalError("resend_verification.lookup", err)
	}
	if user.EmailVerified {
		return nil
	}

	e.sendVerification(ctx, user, ip)
	return nil
}
