package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Register creates an unverified, active account and sends a verification
// email. Duplicate accounts are reported before password strength.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	req.Email = store.NormalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	ip := requestIP(ctx, req.IP)

	user, err := e.register(ctx, req, ip)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAccount):
			e.metricInc(MetricAccountCreationDuplicate)
		case errors.Is(err, ErrWeakPassword):
			e.metricInc(MetricAccountCreationWeakPassword)
		}
		e.emitAudit(ctx, auditEventRegister, false, "", ip, err, nil)
		return nil, err
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventRegister, true, user.ID, ip, nil, nil)

	// The account exists from here on; verification delivery is best-effort
	// and recoverable through ResendVerification.
	e.sendVerification(ctx, user, ip)

	return &RegisterResult{UserID: user.ID, Profile: profileOf(user)}, nil
}

func (e *Engine) register(ctx context.Context, req RegisterRequest, ip string) (*store.User, error) {
	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	_, err := e.users.UserByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return nil, ErrDuplicateAccount
	case !errors.Is(err, store.ErrNotFound):
		return nil, e.internalError("register.lookup", err)
	}

	if violations := e.policy.Validate(req.Password); len(violations) > 0 {
		return nil, &WeakPasswordError{Violations: violations}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, e.internalError("register.hash", err)
	}

	now := e.now().UTC()
	user := &store.User{
		ID:            internal.NewID(),
		Email:         req.Email,
		PasswordHash:  hash,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Role:          e.config.Account.DefaultRole,
		EmailVerified: false,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		// A concurrent registration can win between lookup and insert.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateAccount
		}
		return nil, e.internalError("register.create", err)
	}
	return user, nil
}

// sendVerification issues a fresh verification token and mails it. Every
// failure is logged and swallowed.
func (e *Engine) sendVerification(ctx context.Context, user *store.User, ip string) {
	issued, err := e.ephemeral.IssueVerification(ctx, user.ID, user.Email, ip)
	if err != nil {
		e.logger.Error("issue verification token failed", zap.String("user_id", user.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, user.ID, ip, err, nil)
		return
	}
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, user.ID, ip, nil, nil)
	e.notifyFailed("verification", user.ID, e.notifier.SendVerificationEmail(ctx, recipientOf(user), issued.Token))
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
