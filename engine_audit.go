package authcore

import (
	"context"
	"errors"
)

const (
	auditEventRegister                 = "account_creation"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventAccountLocked            = "account_locked"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventLogoutSession            = "logout_session"
	auditEventLogoutAll                = "logout_all"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventPasswordChange           = "password_change"
	auditEventAccountStatusChange      = "account_status_change"
)

// AuditErrorCode is the stable error classification written to audit
// events in place of raw error strings.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// errRefreshReuse only classifies audit events; callers see
// ErrInvalidRefreshToken.
var errRefreshReuse = errors.New("refresh token reuse")

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	ip string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrDuplicateAccount):
		return auditErrDuplicate
	case errors.Is(err, ErrWeakPassword):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordUnchanged):
		return auditErrPasswordReuse
	case errors.Is(err, errRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	default:
		return auditErrInternal
	}
}
