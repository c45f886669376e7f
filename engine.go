package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/ephemeral"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Engine orchestrates registration, login, refresh rotation, logout,
// email verification and password recovery. It holds no per-user state
// in memory and is safe for concurrent use.
type Engine struct {
	config     Config
	users      store.UserRepository
	sessions   *session.Store
	ephemeral  *ephemeral.Store
	jwtManager *jwt.Manager
	hasher     password.Hasher
	decoyHash  string
	policy     *password.Policy
	validate   *validator.Validate
	notifier   Notifier
	logger     *zap.Logger
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	now        func() time.Time
}

// Close flushes pending audit events. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int64) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}

// ValidateAccessToken verifies an access token offline. It performs no
// store lookups, so a disabled account keeps valid access tokens until
// they expire.
func (e *Engine) ValidateAccessToken(token string) (*Claims, bool) {
	if e == nil || e.jwtManager == nil {
		return nil, false
	}
	start := e.now()
	defer e.observe(MetricValidateLatency, start)
	return e.jwtManager.Validate(token)
}

// IsAccessTokenExpired decodes without verifying. Use it only to choose
// between refresh and re-login, never to grant access.
func (e *Engine) IsAccessTokenExpired(token string) bool {
	if e == nil || e.jwtManager == nil {
		return true
	}
	return e.jwtManager.IsExpired(token)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sessions == nil || e.ephemeral == nil || e.jwtManager == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

// internalError logs a backend failure and hides it behind ErrInternal.
func (e *Engine) internalError(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	e.logger.Error("backend failure", fields...)
	return ErrInternal
}

func (e *Engine) notifyFailed(kind, userID string, err error) {
	if err == nil {
		return
	}
	e.metricInc(MetricNotifyFailure)
	e.logger.Error("notification failed",
		zap.String("kind", kind),
		zap.String("user_id", userID),
		zap.Error(err),
	)
}

func (e *Engine) issueAccessToken(u *store.User) (string, time.Time, error) {
	return e.jwtManager.Issue(jwt.Subject{
		UserID:        u.ID,
		Email:         u.Email,
		Name:          u.FullName(),
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
	})
}

func recipientOf(u *store.User) notify.Recipient {
	return notify.Recipient{Email: u.Email, Name: u.FullName()}
}
