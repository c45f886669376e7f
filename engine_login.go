package authcore

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Login authenticates by email and password and issues a token pair.
//
// Checks run in a fixed order: unknown email, active lockout, password,
// verification, disabled. Unknown emails and wrong passwords both return
// ErrInvalidCredentials after equivalent hashing work. A lockout is only
// revealed on the attempt after the one that triggered it.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := e.now()
	defer e.observe(MetricLoginLatency, start)

	ip := requestIP(ctx, req.IP)
	clientInfo := requestClientInfo(ctx, req.ClientInfo)

	result, userID, err := e.login(ctx, store.NormalizeEmail(req.Email), req.Password, ip, clientInfo)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			e.metricInc(MetricLoginLocked)
		case errors.Is(err, ErrEmailNotVerified):
			e.metricInc(MetricLoginUnverified)
		case errors.Is(err, ErrAccountDisabled):
			e.metricInc(MetricLoginDisabled)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, userID, ip, err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, ip, nil, nil)
	return result, nil
}

func (e *Engine) login(ctx context.Context, email, pass, ip, clientInfo string) (*LoginResult, string, error) {
	user, err := e.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		e.verifyDecoy(pass)
		if err := e.unknownAccountDelay(ctx); err != nil {
			return nil, "", err
		}
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", e.internalError("login.lookup", err)
	}

	now := e.now()
	if remaining, locked := user.LockedUntil(now); locked {
		return nil, user.ID, &AccountLockedError{RemainingMinutes: remainingMinutes(remaining)}
	}

	if !e.hasher.Verify(pass, user.PasswordHash) {
		failure, err := e.users.RecordLoginFailure(ctx, user.ID, now, e.config.Lockout.MaxFailedAttempts, e.config.Lockout.Duration)
		if err != nil {
			return nil, user.ID, e.internalError("login.record_failure", err, zap.String("user_id", user.ID))
		}
		if failure.Locked {
			e.metricInc(MetricAccountLocked)
			e.logger.Warn("account locked after repeated failed logins",
				zap.String("user_id", user.ID),
				zap.String("ip", ip),
				zap.Int("failed_attempts", failure.Count),
			)
			e.emitAudit(ctx, auditEventAccountLocked, true, user.ID, ip, nil, func() map[string]string {
				return map[string]string{"lockout_until": failure.LockoutUntil.UTC().Format(time.RFC3339)}
			})
		}
		return nil, user.ID, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, user.ID, ErrEmailNotVerified
	}
	if !user.Active {
		return nil, user.ID, ErrAccountDisabled
	}

	nowUTC := now.UTC()
	patch := store.UserPatch{
		LastLoginAt:        &nowUTC,
		ClearLoginFailures: true,
	}
	if e.config.Password.UpgradeOnLogin && e.needsRehash(user.PasswordHash) {
		if hash, err := e.hasher.Hash(pass); err == nil {
			patch.PasswordHash = &hash
			e.metricInc(MetricPasswordRehashed)
		} else {
			e.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	if err := e.users.UpdateUser(ctx, user.ID, patch, now); err != nil {
		return nil, user.ID, e.internalError("login.update_user", err, zap.String("user_id", user.ID))
	}
	user.LastLoginAt = &nowUTC
	user.FailedLoginCount = 0
	user.LockoutUntil = nil

	pair, err := e.issuePair(ctx, user, ip, clientInfo)
	if err != nil {
		return nil, user.ID, err
	}
	return &LoginResult{TokenPair: *pair, Profile: profileOf(user)}, user.ID, nil
}

func (e *Engine) issuePair(ctx context.Context, user *store.User, ip, clientInfo string) (*TokenPair, error) {
	access, accessExp, err := e.issueAccessToken(user)
	if err != nil {
		return nil, e.internalError("issue_access_token", err, zap.String("user_id", user.ID))
	}
	refresh, err := e.sessions.Issue(ctx, user.ID, ip, clientInfo)
	if err != nil {
		return nil, e.internalError("issue_refresh_token", err, zap.String("user_id", user.ID))
	}
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh.Token,
		RefreshTokenExpiresAt: refresh.Record.ExpiresAt,
	}, nil
}

// verifyDecoy spends the same hashing work as a real verification.
func (e *Engine) verifyDecoy(pass string) {
	_ = e.hasher.Verify(pass, e.decoyHash)
}

func (e *Engine) unknownAccountDelay(ctx context.Context) error {
	d := e.config.Lockout.UnknownAccountDelay
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type upgradeChecker interface {
	NeedsUpgrade(encodedHash string) bool
}

func (e *Engine) needsRehash(hash string) bool {
	uc, ok := e.hasher.(upgradeChecker)
	return ok && uc.NeedsUpgrade(hash)
}

func remainingMinutes(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}
