package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultSchedule  = "@hourly"
	defaultRetention = 7 * 24 * time.Hour
)

// Cleaner periodically purges token records that expired more than the
// retention window ago. Expired records are kept for a while so that a
// replayed token is still recognised as reuse rather than as unknown.
type Cleaner struct {
	purgers   map[string]store.Purger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration
	schedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to compute the purge cutoff.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetention sets how long past expiry records are kept.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSchedule overrides the cron expression of the sweep.
func WithSchedule(schedule string) Option {
	return func(cleaner *Cleaner) {
		if schedule != "" {
			cleaner.schedule = schedule
		}
	}
}

// WithLogger sets the logger. Defaults to zap.NewNop.
func WithLogger(l *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if l != nil {
			cleaner.log = l
		}
	}
}

// NewCleaner returns a Cleaner over purgers, keyed by a name used in logs.
// Nil purgers are skipped.
func NewCleaner(purgers map[string]store.Purger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		purgers:   make(map[string]store.Purger, len(purgers)),
		now:       time.Now,
		log:       zap.NewNop(),
		retention: defaultRetention,
		schedule:  defaultSchedule,
	}
	for name, p := range purgers {
		if p != nil {
			cleaner.purgers[name] = p
		}
	}

	for _, opt := range opts {
		opt(cleaner)
	}
	cleaner.log = cleaner.log.Named("maintenance")

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the sweep and launches the scheduler. It is a no-op
// without purgers.
func (c *Cleaner) Start() error {
	if len(c.purgers) == 0 {
		return nil
	}
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("token purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running
// sweeps finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce purges every backend and sums what was removed. Every backend is
// attempted; failures are combined.
func (c *Cleaner) RunOnce(ctx context.Context) (store.PurgeStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cutoff := c.now().Add(-c.retention)

	var (
		total store.PurgeStats
		errs  error
	)
	for name, p := range c.purgers {
		stats, err := p.PurgeExpired(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance: purge %s: %w", name, err))
			continue
		}
		total.RefreshTokens += stats.RefreshTokens
		total.EphemeralTokens += stats.EphemeralTokens
		if stats.RefreshTokens > 0 || stats.EphemeralTokens > 0 {
			c.log.Info("purged expired tokens",
				zap.String("backend", name),
				zap.Int64("refresh_tokens", stats.RefreshTokens),
				zap.Int64("ephemeral_tokens", stats.EphemeralTokens),
			)
		}
	}
	return total, errs
}
