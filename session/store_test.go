package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/gormstore"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

type backend struct {
	name string
	repo func(t *testing.T) store.RefreshTokenRepository
}

func backends() []backend {
	return []backend{
		{"redis", func(t *testing.T) store.RefreshTokenRepository {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return redisstore.New(rdb, redisstore.Config{Prefix: "st"}).Stores().RefreshTokens
		}},
		{"sqlite", func(t *testing.T) store.RefreshTokenRepository {
			name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
			db, err := gormstore.Open(gormstore.Config{
				Driver: gormstore.DriverSQLite,
				DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
			})
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			})
			s, err := gormstore.New(db)
			if err != nil {
				t.Fatalf("migrate sqlite: %v", err)
			}
			return s.Stores().RefreshTokens
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store, clock *testClock)) {
	t.Helper()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			clock := &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
			s, err := NewStore(b.repo(t), Config{TTL: time.Hour, Now: clock.Now})
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			fn(t, s, clock)
		})
	}
}

func TestIssueAndLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, clock *testClock) {
		ctx := context.Background()
		issued, err := s.Issue(ctx, "u1", "10.0.0.1", "curl/8")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if !internal.WellFormed(issued.Token, internal.RefreshTokenBytes) {
			t.Fatalf("issued token is not 64 random bytes: %q", issued.Token)
		}
		if issued.Record.TokenHash != internal.HashToken(issued.Token) {
			t.Fatal("record must be keyed by the token hash")
		}

		rec, err := s.Lookup(ctx, issued.Token)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if rec.UserID != "u1" || rec.IP != "10.0.0.1" || rec.ClientInfo != "curl/8" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if !rec.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
			t.Fatalf("unexpected expiry %v", rec.ExpiresAt)
		}
	})
}

func TestLookupInvalidToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		unknown, err := internal.NewRefreshToken()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		for _, token := range []string{"", "short", unknown} {
			if _, err := s.Lookup(ctx, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken for %q, got %v", token, err)
			}
			if _, err := s.Rotate(ctx, token, "", ""); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected rotate ErrInvalidToken for %q, got %v", token, err)
			}
		}
	})
}

func TestRotateRevokesAndLinks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		first, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		second, err := s.Rotate(ctx, first.Token, "10.0.0.2", "app/2")
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if second.Token == first.Token || second.Record.UserID != "u1" {
			t.Fatalf("unexpected successor: %+v", second.Record)
		}

		old, err := s.Lookup(ctx, first.Token)
		if err != nil {
			t.Fatalf("lookup old: %v", err)
		}
		if old.RevokedAt == nil || old.RevocationReason != ReasonRotated {
			t.Fatalf("expected old token revoked as rotated: %+v", old)
		}
		if old.ReplacedBy != second.Record.TokenHash {
			t.Fatal("expected old token to point at its successor")
		}

		_, err = s.Rotate(ctx, first.Token, "", "")
		var notActive *NotActiveError
		if !errors.As(err, &notActive) || !errors.Is(err, ErrTokenNotActive) {
			t.Fatalf("expected NotActiveError, got %v", err)
		}
		if !notActive.Rotated() {
			t.Fatal("expected reused token to report rotation")
		}
	})
}

func TestRotateExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, clock *testClock) {
		ctx := context.Background()
		issued, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		clock.Advance(time.Hour)

		_, err = s.Rotate(ctx, issued.Token, "", "")
		var notActive *NotActiveError
		if !errors.As(err, &notActive) {
			t.Fatalf("expected NotActiveError, got %v", err)
		}
		if notActive.Revoked() {
			t.Fatal("expired token must not report revoked")
		}
	})
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		issued, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		const workers = 16
		var (
			wg     sync.WaitGroup
			wins   atomic.Int32
			losses atomic.Int32
			start  = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Rotate(ctx, issued.Token, "", "")
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrTokenNotActive):
					losses.Add(1)
				default:
					t.Errorf("unexpected rotate error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 || losses.Load() != workers-1 {
			t.Fatalf("expected one winner, got wins=%d losses=%d", wins.Load(), losses.Load())
		}
		active, err := s.ListActive(ctx, "u1")
		if err != nil {
			t.Fatalf("list active: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("expected exactly one active successor, got %d", len(active))
		}
	})
}

func TestRevokeIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		issued, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		ok, err := s.Revoke(ctx, issued.Token, ReasonLogout)
		if err != nil || !ok {
			t.Fatalf("first revoke: ok=%v err=%v", ok, err)
		}
		ok, err = s.Revoke(ctx, issued.Token, ReasonLogout)
		if err != nil || ok {
			t.Fatalf("second revoke: ok=%v err=%v", ok, err)
		}
		ok, err = s.Revoke(ctx, "garbage", ReasonLogout)
		if err != nil || ok {
			t.Fatalf("malformed revoke: ok=%v err=%v", ok, err)
		}

		rec, err := s.Lookup(ctx, issued.Token)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if rec.RevocationReason != ReasonLogout {
			t.Fatalf("expected first reason to stick, got %q", rec.RevocationReason)
		}
	})
}

func TestRevokeAllForUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if _, err := s.Issue(ctx, "u1", "", ""); err != nil {
				t.Fatalf("issue: %v", err)
			}
		}
		other, err := s.Issue(ctx, "u2", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		revoked, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if _, err := s.Revoke(ctx, revoked.Token, ReasonLogout); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		n, err := s.RevokeAllForUser(ctx, "u1", ReasonAdmin)
		if err != nil {
			t.Fatalf("revoke all: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 revoked, got %d", n)
		}
		active, err := s.ListActive(ctx, "u1")
		if err != nil || len(active) != 0 {
			t.Fatalf("expected no active u1 tokens: %v %v", active, err)
		}
		if rec, err := s.Lookup(ctx, other.Token); err != nil || rec.RevokedAt != nil {
			t.Fatalf("expected other user's token untouched: %+v %v", rec, err)
		}
	})
}

func TestRevokeChainAfterReuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, _ *testClock) {
		ctx := context.Background()
		t0, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		t1, err := s.Rotate(ctx, t0.Token, "", "")
		if err != nil {
			t.Fatalf("rotate t0: %v", err)
		}
		t2, err := s.Rotate(ctx, t1.Token, "", "")
		if err != nil {
			t.Fatalf("rotate t1: %v", err)
		}

		_, err = s.Rotate(ctx, t0.Token, "", "")
		var notActive *NotActiveError
		if !errors.As(err, &notActive) {
			t.Fatalf("expected reuse to be rejected, got %v", err)
		}

		n, err := s.RevokeChain(ctx, notActive.Record, ReasonReuseDetected)
		if err != nil {
			t.Fatalf("revoke chain: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected only the live descendant revoked, got %d", n)
		}
		rec, err := s.Lookup(ctx, t2.Token)
		if err != nil {
			t.Fatalf("lookup t2: %v", err)
		}
		if rec.RevokedAt == nil || rec.RevocationReason != ReasonReuseDetected {
			t.Fatalf("expected t2 revoked for reuse: %+v", rec)
		}

		if n, err := s.RevokeChain(ctx, nil, ReasonReuseDetected); err != nil || n != 0 {
			t.Fatalf("nil chain: n=%d err=%v", n, err)
		}
	})
}

func TestListActiveNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store, clock *testClock) {
		ctx := context.Background()
		first, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		clock.Advance(time.Minute)
		second, err := s.Issue(ctx, "u1", "", "")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}

		active, err := s.ListActive(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(active) != 2 || active[0].ID != second.Record.ID || active[1].ID != first.Record.ID {
			t.Fatalf("unexpected order: %+v", active)
		}

		clock.Advance(time.Hour)
		active, err = s.ListActive(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(active) != 0 {
			t.Fatalf("expected expired tokens to drop out, got %d", len(active))
		}
	})
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil, Config{}); err == nil {
		t.Fatal("expected nil repository to fail")
	}
	repo := backends()[0].repo(t)
	if _, err := NewStore(repo, Config{TTL: -time.Second}); err == nil {
		t.Fatal("expected negative ttl to fail")
	}
	s, err := NewStore(repo, Config{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.TTL() != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", s.TTL())
	}
}
