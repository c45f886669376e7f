package authcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/password"
)

var (
	// ErrDuplicateAccount is returned by Register when the email is taken.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrWeakPassword is matched by *WeakPasswordError.
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by *AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailNotVerified is returned by Login before the email is confirmed.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountDisabled is returned by Login for inactive accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrInvalidRefreshToken covers every refresh failure, reuse included.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrInvalidOrExpiredToken is returned for unusable verification and reset tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrPasswordUnchanged is returned by ChangePassword when the new password equals the current one.
	ErrPasswordUnchanged = errors.New("new password must be different from current password")
	// ErrNotFound is returned when a user id does not resolve.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInternal hides backend failures from callers. Details are logged.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// WeakPasswordError lists every strength rule a password violated.
type WeakPasswordError struct {
	Violations []password.Violation
}

func (e *WeakPasswordError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message())
	}
	return fmt.Sprintf("%s: %s", ErrWeakPassword.Error(), strings.Join(msgs, "; "))
}

// Is matches ErrWeakPassword.
func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrWeakPassword
}

// AccountLockedError reports an active lockout. RemainingMinutes is
// rounded up, so it is at least 1.
type AccountLockedError struct {
	RemainingMinutes int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s: try again in %d minute(s)", ErrAccountLocked.Error(), e.RemainingMinutes)
}

// Is matches ErrAccountLocked.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
