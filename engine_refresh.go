package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"go.uber.org/zap"
)

// Refresh rotates refreshToken and issues a new access token for its
// owner. Every client-visible failure is ErrInvalidRefreshToken; reuse of
// a rotated token is logged, audited and, with RevokeChainOnReuse, kills
// every live descendant.
func (e *Engine) Refresh(ctx context.Context, refreshToken, ip, clientInfo string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ip = requestIP(ctx, ip)
	clientInfo = requestClientInfo(ctx, clientInfo)

	pair, userID, err := e.refresh(ctx, refreshToken, ip, clientInfo)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if !errors.Is(err, errRefreshReuse) {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, ip, err, nil)
		}
		if errors.Is(err, ErrInternal) {
			return nil, ErrInternal
		}
		return nil, ErrInvalidRefreshToken
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, userID, ip, nil, nil)
	return pair, nil
}

func (e *Engine) refresh(ctx context.Context, token, ip, clientInfo string) (*TokenPair, string, error) {
	issued, err := e.sessions.Rotate(ctx, token, ip, clientInfo)
	if err != nil {
		var notActive *session.NotActiveError
		switch {
		case errors.As(err, &notActive):
			if notActive.Rotated() {
				e.handleReuse(ctx, notActive.Record, ip)
				return nil, notActive.Record.UserID, errRefreshReuse
			}
			if notActive.Revoked() {
				e.logReplay(notActive.Record, ip)
			}
			return nil, notActive.Record.UserID, ErrInvalidRefreshToken
		case errors.Is(err, session.ErrInvalidToken):
			return nil, "", ErrInvalidRefreshToken
		default:
			return nil, "", e.internalError("refresh.rotate", err)
		}
	}

	userID := issued.Record.UserID
	user, err := e.users.UserByID(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.revokeIneligible(ctx, issued.Token, userID)
		return nil, userID, e.internalError("refresh.lookup_user", err, zap.String("user_id", userID))
	}
	if err != nil || !user.Active || !user.EmailVerified {
		e.revokeIneligible(ctx, issued.Token, userID)
		return nil, userID, ErrInvalidRefreshToken
	}

	access, accessExp, err := e.issueAccessToken(user)
	if err != nil {
		e.revokeIneligible(ctx, issued.Token, userID)
		return nil, userID, e.internalError("refresh.issue_access_token", err, zap.String("user_id", userID))
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          issued.Token,
		RefreshTokenExpiresAt: issued.Record.ExpiresAt,
	}, userID, nil
}

func (e *Engine) handleReuse(ctx context.Context, rec *store.RefreshToken, ip string) {
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("user_id", rec.UserID),
		zap.String("token_id", rec.ID),
		zap.String("ip", ip),
		zap.String("original_ip", rec.IP),
	)

	var revoked int64
	if e.config.Security.RevokeChainOnReuse {
		n, err := e.sessions.RevokeChain(ctx, rec, session.ReasonReuseDetected)
		if err != nil {
			e.logger.Error("revoke reused chain failed", zap.String("user_id", rec.UserID), zap.Error(err))
		}
		revoked = n
		e.metricAdd(MetricRefreshChainRevoked, n)
	}

	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.UserID, ip, errRefreshReuse, func() map[string]string {
		return map[string]string{
			"token_id":      rec.ID,
			"chain_revoked": strconv.FormatInt(revoked, 10),
		}
	})
}

// logReplay records presentation of a token revoked outside rotation
// (logout, bulk revocation, password reset). The chain is left alone.
func (e *Engine) logReplay(rec *store.RefreshToken, ip string) {
	e.logger.Warn("refresh token replay",
		zap.String("user_id", rec.UserID),
		zap.String("token_id", rec.ID),
		zap.String("revocation_reason", rec.RevocationReason),
		zap.String("ip", ip),
	)
}

// revokeIneligible drops a successor that was minted for an account that
// may no longer refresh.
func (e *Engine) revokeIneligible(ctx context.Context, token, userID string) {
	if _, err := e.sessions.Revoke(ctx, token, session.ReasonUserIneligible); err != nil {
		e.logger.Error("revoke ineligible refresh token failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Logout revokes refreshToken. Absent, malformed and already revoked
// tokens are a silent success.
func (e *Engine) Logout(ctx context.Context, refreshToken, ip string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ip = requestIP(ctx, ip)

	reason := session.ReasonLogout
	if ip != "" {
		reason = session.ReasonLogout + ":" + ip
	}

	revoked, err := e.sessions.Revoke(ctx, refreshToken, reason)
	if err != nil {
		return e.internalError("logout.revoke", err)
	}
	if revoked {
		e.metricInc(MetricLogout)
	}
	e.emitAudit(ctx, auditEventLogoutSession, true, "", ip, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.FormatBool(revoked)}
	})
	return nil
}

// RevokeAllTokens revokes every active refresh token of userID and returns
// how many were revoked. An empty reason records "admin".
func (e *Engine) RevokeAllTokens(ctx context.Context, userID, reason string) (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidInput
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = session.ReasonAdmin
	}

	n, err := e.sessions.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		err = e.internalError("revoke_all", err, zap.String("user_id", userID))
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"reason":  reason,
			"revoked": strconv.FormatInt(n, 10),
		}
	})
	return n, nil
}

// ActiveSessions lists userID's live refresh tokens, newest first.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	tokens, err := e.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, e.internalError("active_sessions", err, zap.String("user_id", userID))
	}
	out := make([]SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, SessionInfo{
			ID:         t.ID,
			IssuedAt:   t.IssuedAt,
			ExpiresAt:  t.ExpiresAt,
			IP:         t.IP,
			ClientInfo: t.ClientInfo,
		})
	}
	return out, nil
}
