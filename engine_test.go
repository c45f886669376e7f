package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/gormstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "a@x.com"
	testPassword = "Abc123!@"
	testIP       = "203.0.113.7"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	kind  string
	to    notify.Recipient
	token string
}

// recordingNotifier keeps every notification; err makes every send fail.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *recordingNotifier) record(kind string, to notify.Recipient, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{kind: kind, to: to, token: token})
	return n.err
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, to notify.Recipient, token string) error {
	return n.record("verification", to, token)
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, to notify.Recipient, token string) error {
	return n.record("reset", to, token)
}

func (n *recordingNotifier) SendWelcome(_ context.Context, to notify.Recipient) error {
	return n.record("welcome", to, "")
}

func (n *recordingNotifier) SendPasswordChangedNotice(_ context.Context, to notify.Recipient) error {
	return n.record("password_changed", to, "")
}

// lastToken returns the newest token of kind sent to email.
func (n *recordingNotifier) lastToken(t *testing.T, kind, email string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind && n.sent[i].to.Email == email {
			return n.sent[i].token
		}
	}
	t.Fatalf("no %s notification sent to %s", kind, email)
	return ""
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.kind == kind {
			c++
		}
	}
	return c
}

type testEnv struct {
	engine   *Engine
	stores   Stores
	clock    *testClock
	notifier *recordingNotifier
	logs     *observer.ObservedLogs
}

type envOption func(*Config)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.Password.BcryptCost = bcrypt.MinCost
	cfg.Metrics.Enabled = true
	return cfg
}

type backendFactory struct {
	name   string
	stores func(t *testing.T) Stores
}

func redisStores(t *testing.T) Stores {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, redisstore.Config{Prefix: "authcore-test"}).Stores()
}

func sqliteStores(t *testing.T) Stores {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gormstore.Open(gormstore.Config{
		Driver: gormstore.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s, err := gormstore.New(db)
	require.NoError(t, err)
	return s.Stores()
}

func backends() []backendFactory {
	return []backendFactory{
		{name: "redis", stores: redisStores},
		{name: "sqlite", stores: sqliteStores},
	}
}

func newEnvWith(t *testing.T, stores Stores, opts ...envOption) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := newTestClock()
	notifier := &recordingNotifier{}
	core, logs := observer.New(zapcore.DebugLevel)

	engine, err := New().
		WithConfig(cfg).
		WithStores(stores).
		WithNotifier(notifier).
		WithLogger(zap.New(core)).
		WithClock(clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, stores: stores, clock: clock, notifier: notifier, logs: logs}
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	return newEnvWith(t, redisStores(t), opts...)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Helper()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, newEnvWith(t, b.stores(t)))
		})
	}
}

func (env *testEnv) register(t *testing.T, email string) *RegisterResult {
	t.Helper()
	res, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
		IP:        testIP,
	})
	require.NoError(t, err)
	return res
}

// registerVerified registers email and consumes its verification token.
func (env *testEnv) registerVerified(t *testing.T, email string) *RegisterResult {
	t.Helper()
	res := env.register(t, email)
	token := env.notifier.lastToken(t, "verification", store.NormalizeEmail(email))
	require.NoError(t, env.engine.VerifyEmail(context.Background(), token, testIP))
	return res
}

func (env *testEnv) login(t *testing.T, email, pass string) (*LoginResult, error) {
	t.Helper()
	return env.engine.Login(context.Background(), LoginRequest{
		Email:      email,
		Password:   pass,
		IP:         testIP,
		ClientInfo: "test-agent/1.0",
	})
}

func (env *testEnv) metric(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}

func TestExampleScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()

		env.register(t, testEmail)

		_, err := env.engine.Register(ctx, RegisterRequest{
			Email:     "A@X.com",
			Password:  testPassword,
			FirstName: "Ada",
			LastName:  "Lovelace",
		})
		require.ErrorIs(t, err, ErrDuplicateAccount)

		_, err = env.login(t, testEmail, testPassword)
		require.ErrorIs(t, err, ErrEmailNotVerified)

		token := env.notifier.lastToken(t, "verification", testEmail)
		require.NoError(t, env.engine.VerifyEmail(ctx, token, testIP))

		res, err := env.login(t, testEmail, testPassword)
		require.NoError(t, err)
		assert.NotEmpty(t, res.AccessToken)
		assert.NotEmpty(t, res.RefreshToken)
		assert.True(t, res.Profile.EmailVerified)
		assert.Equal(t, testEmail, res.Profile.Email)

		pair, err := env.engine.Refresh(ctx, res.RefreshToken, testIP, "test-agent/1.0")
		require.NoError(t, err)
		assert.NotEqual(t, res.RefreshToken, pair.RefreshToken)
		assert.NotEqual(t, res.AccessToken, pair.AccessToken)

		_, err = env.engine.Refresh(ctx, res.RefreshToken, testIP, "test-agent/1.0")
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestBuildValidation(t *testing.T) {
	_, err := New().WithConfig(testConfig()).Build()
	require.Error(t, err, "stores are required")

	cfg := testConfig()
	cfg.JWT.Secret = []byte("short")
	_, err = New().WithConfig(cfg).WithStores(redisStores(t)).Build()
	require.ErrorIs(t, err, ErrInvalidInput)

	b := New().WithConfig(testConfig()).WithStores(redisStores(t))
	engine, err := b.Build()
	require.NoError(t, err)
	defer engine.Close()
	_, err = b.Build()
	require.Error(t, err, "builder is single-use")
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	_, err := e.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	require.ErrorIs(t, err, ErrEngineNotReady)
	require.ErrorIs(t, e.Logout(context.Background(), "x", ""), ErrEngineNotReady)
	_, ok := e.ValidateAccessToken("x")
	assert.False(t, ok)
	assert.True(t, e.IsAccessTokenExpired("x"))
	assert.Zero(t, e.AuditDropped())
}

func TestAccessTokenValidationPassThrough(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	res, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	claims, ok := env.engine.ValidateAccessToken(res.AccessToken)
	require.True(t, ok)
	assert.Equal(t, res.Profile.ID, claims.UserID())
	assert.Equal(t, testEmail, claims.Email)
	assert.Equal(t, "Ada Lovelace", claims.Name)
	assert.Equal(t, string(RoleStandard), claims.Role)
	assert.True(t, claims.EmailVerified)
	assert.False(t, env.engine.IsAccessTokenExpired(res.AccessToken))
	assert.True(t, res.AccessTokenExpiresAt.Equal(claims.ExpiresAt.Time))

	env.clock.Advance(15*time.Minute + time.Second)
	assert.True(t, env.engine.IsAccessTokenExpired(res.AccessToken))
	_, ok = env.engine.ValidateAccessToken(res.AccessToken)
	assert.True(t, ok, "clock skew leeway still accepts the token")

	env.clock.Advance(time.Minute)
	_, ok = env.engine.ValidateAccessToken(res.AccessToken)
	assert.False(t, ok)
}

func TestSecurityReport(t *testing.T) {
	env := newEnv(t)
	report := env.engine.SecurityReport()

	assert.Equal(t, "HS256", report.SigningAlgorithm)
	assert.Equal(t, 15*time.Minute, report.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, report.RefreshTTL)
	assert.Equal(t, PasswordBcrypt, report.PasswordAlgorithm)
	assert.Equal(t, bcrypt.MinCost, report.BcryptCost)
	assert.Equal(t, 5, report.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, report.LockoutDuration)
	assert.Equal(t, 24*time.Hour, report.VerificationTTL)
	assert.Equal(t, time.Hour, report.ResetTTL)
	assert.True(t, report.RevokeChainOnReuse)
	assert.False(t, report.AuditEnabled)
}

func TestArgon2idEngine(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Password.Algorithm = PasswordArgon2id
		c.Password.Memory = 8 * 1024
		c.Password.Time = 1
		c.Password.Parallelism = 1
	})
	env.registerVerified(t, testEmail)

	_, err := env.login(t, testEmail, testPassword)
	require.NoError(t, err)

	u, err := env.stores.Users.UserByEmail(context.Background(), testEmail)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u.PasswordHash, "$argon2id$"))
	assert.Equal(t, PasswordArgon2id, env.engine.SecurityReport().PasswordAlgorithm)
}

func TestContextClientIPFallback(t *testing.T) {
	env := newEnv(t)
	env.registerVerified(t, testEmail)

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.1"), "ctx-agent")
	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	sessions, err := env.engine.ActiveSessions(ctx, res.Profile.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "198.51.100.1", sessions[0].IP)
	assert.Equal(t, "ctx-agent", sessions[0].ClientInfo)
}

// failingUsers wraps a UserRepository and fails lookups by email.
type failingUsers struct {
	store.UserRepository
}

func (failingUsers) UserByEmail(context.Context, string) (*store.User, error) {
	return nil, errors.New("connection reset")
}

func TestBackendFailuresSurfaceAsInternal(t *testing.T) {
	stores := redisStores(t)
	stores.Users = failingUsers{UserRepository: stores.Users}
	env := newEnvWith(t, stores)
	ctx := context.Background()

	_, err := env.login(t, testEmail, testPassword)
	require.ErrorIs(t, err, ErrInternal)
	require.ErrorIs(t, env.engine.ForgotPassword(ctx, testEmail, testIP), ErrInternal)
	require.ErrorIs(t, env.engine.ResendVerification(ctx, testEmail, testIP), ErrInternal)

	entries := env.logs.FilterMessage("backend failure").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "login.lookup", entries[0].ContextMap()["op"])
	assert.NotContains(t, ErrInternal.Error(), "connection reset")
}
