package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/app"
	"github.com/MrEthical07/authcore/internal/maintenance"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/store"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

// capturingNotifier keeps the latest verification token per email so the
// harness can verify accounts it registers.
type capturingNotifier struct {
	notify.Nop
	mu     sync.Mutex
	tokens map[string]string
}

func (n *capturingNotifier) SendVerificationEmail(_ context.Context, to notify.Recipient, token string) error {
	n.mu.Lock()
	n.tokens[to.Email] = token
	n.mu.Unlock()
	return nil
}

func (n *capturingNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type account struct {
	email   string
	mu      sync.Mutex
	refresh string
}

const loadtestPassword = "Loadtest-Passw0rd!"

func main() {
	var (
		configDir   = flag.String("config", ".", "directory holding authcore.yaml")
		accounts    = flag.Int("accounts", 0, "accounts to register (overrides config)")
		concurrency = flag.Int("concurrency", 0, "concurrent workers (overrides config)")
		rounds      = flag.Int("rounds", 0, "refresh rounds per account (overrides config)")
	)
	flag.Parse()

	settings, err := app.LoadSettings(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	if *accounts > 0 {
		settings.Loadtest.Accounts = *accounts
	}
	if *concurrency > 0 {
		settings.Loadtest.Concurrency = *concurrency
	}
	if *rounds > 0 {
		settings.Loadtest.Rounds = *rounds
	}
	if settings.Loadtest.Accounts <= 0 || settings.Loadtest.Concurrency <= 0 || settings.Loadtest.Rounds <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and rounds must be > 0")
		os.Exit(2)
	}

	logger, err := app.NewLogger(settings.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), settings, logger); err != nil {
		logger.Error("loadtest failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *app.Settings, logger *zap.Logger) error {
	backend, err := app.OpenBackend(ctx, settings.Backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close backend", zap.Error(err))
		}
	}()

	cfg := settings.EngineConfig()
	if len(cfg.JWT.Secret) == 0 {
		// The harness is throwaway; any 32 bytes will do.
		cfg.JWT.Secret = []byte("authcore-loadtest-secret-0123456789")
	}
	notifier := &capturingNotifier{tokens: map[string]string{}}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithStores(backend.Stores).
		WithNotifier(notifier).
		WithLogger(logger).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if backend.Purger != nil && settings.Maintenance.Enabled {
		cleaner := maintenance.NewCleaner(
			map[string]store.Purger{settings.Backend.Kind: backend.Purger},
			maintenance.WithSchedule(settings.Maintenance.Schedule),
			maintenance.WithRetention(settings.Maintenance.Retention),
			maintenance.WithLogger(logger),
		)
		if err := cleaner.Start(); err != nil {
			return err
		}
		defer func() { <-cleaner.Stop().Done() }()
	}

	lt := settings.Loadtest
	fmt.Printf("seeding %d accounts on %s...\n", lt.Accounts, settings.Backend.Kind)
	startSeed := time.Now()
	accts, err := seed(ctx, engine, notifier, lt.Accounts)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	refreshStats := runRefreshPhase(ctx, engine, accts, lt.Rounds, lt.Concurrency)
	winners, losers, err := runContention(ctx, engine, accts[0], lt.Concurrency)
	if err != nil {
		return err
	}

	fmt.Println("---- results ----")
	printStats("refresh", refreshStats)
	fmt.Printf("contention: workers=%d winners=%d losers=%d\n", lt.Concurrency, winners, losers)

	counters := engine.MetricsSnapshot().Counters
	fmt.Printf("metrics: refresh_success=%d refresh_failure=%d reuse_detected=%d chain_revoked=%d\n",
		counters[authcore.MetricRefreshSuccess],
		counters[authcore.MetricRefreshFailure],
		counters[authcore.MetricRefreshReuseDetected],
		counters[authcore.MetricRefreshChainRevoked],
	)
	if winners != 1 {
		return fmt.Errorf("expected exactly one rotation winner, got %d", winners)
	}
	return nil
}

func seed(ctx context.Context, engine *authcore.Engine, notifier *capturingNotifier, n int) ([]*account, error) {
	out := make([]*account, 0, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("load-%d@loadtest.local", i)
		if _, err := engine.Register(ctx, authcore.RegisterRequest{
			Email:     email,
			Password:  loadtestPassword,
			FirstName: "Load",
			LastName:  fmt.Sprintf("Test %d", i),
		}); err != nil && !errors.Is(err, authcore.ErrDuplicateAccount) {
			return nil, fmt.Errorf("register %s: %w", email, err)
		}
		if token := notifier.token(email); token != "" {
			if err := engine.VerifyEmail(ctx, token, ""); err != nil {
				return nil, fmt.Errorf("verify %s: %w", email, err)
			}
		}
		res, err := engine.Login(ctx, authcore.LoginRequest{Email: email, Password: loadtestPassword, ClientInfo: "authcore-loadtest"})
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", email, err)
		}
		out = append(out, &account{email: email, refresh: res.RefreshToken})
	}
	return out, nil
}

// runRefreshPhase rotates every account's chain rounds times. Each account
// is rotated by one worker at a time, so failures here are real errors.
func runRefreshPhase(ctx context.Context, engine *authcore.Engine, accts []*account, rounds, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		ops       = len(accts) * rounds
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				acct := accts[i%len(accts)]

				acct.mu.Lock()
				t0 := time.Now()
				pair, err := engine.Refresh(ctx, acct.refresh, "", "authcore-loadtest")
				d := time.Since(t0)
				if err == nil {
					acct.refresh = pair.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				acct.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runContention presents one refresh token from every worker at once.
func runContention(ctx context.Context, engine *authcore.Engine, acct *account, workers int) (int64, int64, error) {
	acct.mu.Lock()
	token := acct.refresh
	acct.mu.Unlock()

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners int64
		losers  int64
		other   atomic.Value
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Refresh(ctx, token, "", "authcore-loadtest")
			switch {
			case err == nil:
				atomic.AddInt64(&winners, 1)
			case errors.Is(err, authcore.ErrInvalidRefreshToken):
				atomic.AddInt64(&losers, 1)
			default:
				other.Store(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if err, ok := other.Load().(error); ok {
		return winners, losers, fmt.Errorf("contention: %w", err)
	}
	return winners, losers, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
