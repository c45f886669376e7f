package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/gormstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Backend is an opened persistence layer. Purger is nil when the backend
// expires records itself.
type Backend struct {
	Stores  authcore.Stores
	Purger  store.Purger
	closers []func() error
}

// Close releases every connection, combining failures.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var errs error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, b.closers[i]())
	}
	b.closers = nil
	return errs
}

// OpenBackend connects to the configured backend and verifies it is
// reachable.
func OpenBackend(ctx context.Context, s BackendSettings, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{}

	switch kind := strings.ToLower(strings.TrimSpace(s.Kind)); kind {
	case BackendMemory, BackendRedis:
		addr := s.Redis.Address
		if kind == BackendMemory {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, fmt.Errorf("backend: start miniredis: %w", err)
			}
			b.closers = append(b.closers, func() error { mr.Close(); return nil })
			addr = mr.Addr()
		}
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Username:     s.Redis.Username,
			Password:     s.Redis.Password,
			DB:           s.Redis.DB,
			DialTimeout:  s.Redis.Timeout,
			ReadTimeout:  s.Redis.Timeout,
			WriteTimeout: s.Redis.Timeout,
		})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, multierr.Append(fmt.Errorf("backend: ping redis %s: %w", addr, err), b.Close())
		}
		b.Stores = redisstore.New(client, redisstore.Config{Prefix: s.Redis.Prefix, Retention: s.Redis.Retention}).Stores()
		logger.Info("backend ready", zap.String("kind", kind), zap.String("addr", addr))

	case BackendSQLite, BackendPostgres:
		db, err := gormstore.Open(gormstore.Config{Driver: kind, DSN: s.SQL.DSN})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("backend: sql handle: %w", err)
		}
		b.closers = append(b.closers, sqlDB.Close)
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, multierr.Append(fmt.Errorf("backend: ping %s: %w", kind, err), b.Close())
		}
		gs, err := gormstore.New(db)
		if err != nil {
			return nil, multierr.Append(err, b.Close())
		}
		b.Stores = gs.Stores()
		b.Purger = gs
		logger.Info("backend ready", zap.String("kind", kind))

	default:
		return nil, fmt.Errorf("backend: unsupported kind %q", s.Kind)
	}
	return b, nil
}

// NewNotifier returns an SMTP-backed MailNotifier, or a LogNotifier when
// SMTP is disabled.
func NewNotifier(s MailSettings, logger *zap.Logger) (authcore.Notifier, error) {
	if !s.SMTP.Enabled {
		return notify.NewLogNotifier(logger), nil
	}
	if s.SMTP.From == "" {
		return nil, errors.New("mail: smtp.from is required")
	}
	mailer, err := notify.NewSMTPMailer(notify.SMTPSettings{
		Enabled:  true,
		Host:     s.SMTP.Host,
		Port:     s.SMTP.Port,
		Username: s.SMTP.Username,
		Password: s.SMTP.Password,
		From:     s.SMTP.From,
		UseTLS:   s.SMTP.UseTLS,
		Timeout:  s.SMTP.Timeout,
	})
	if err != nil {
		return nil, err
	}
	n, err := notify.NewMailNotifier(mailer, notify.MailConfig{
		From:    s.SMTP.From,
		Product: s.Product,
		Links:   notify.Links{VerifyURL: s.VerifyURL, ResetURL: s.ResetURL},
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}
