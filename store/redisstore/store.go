package redisstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every transport or script failure.
var ErrRedisUnavailable = errors.New("redisstore: redis unavailable")

const (
	defaultPrefix    = "authcore"
	defaultRetention = 7 * 24 * time.Hour
)

// Config controls key layout and physical expiry.
type Config struct {
	// Prefix namespaces every key. Defaults to "authcore".
	Prefix string
	// Retention keeps token records readable this long past ExpiresAt so
	// replays of expired tokens are still recognised. Defaults to 7 days.
	Retention time.Duration
}

// Store implements the user, refresh-token and ephemeral-token repositories
// on a single Redis keyspace.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New returns a Store using client, which must be a single-node or
// failover client; cluster clients are not supported.
func New(client redis.UniversalClient, cfg Config) *Store {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// Stores exposes s as the engine's persistence bundle.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Users:         s,
		RefreshTokens: s,
		Ephemeral:     s,
	}
}

func (s *Store) userKey(id string) string {
	return s.prefix + ":user:" + id
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":user:email:" + email
}

func (s *Store) refreshPrefix() string {
	return s.prefix + ":rt:"
}

func (s *Store) refreshKey(hash string) string {
	return s.refreshPrefix() + hash
}

func (s *Store) refreshIndexKey(userID string) string {
	return s.prefix + ":rt:user:" + userID
}

func (s *Store) ephemeralPrefix() string {
	return s.prefix + ":et:"
}

func (s *Store) ephemeralKey(hash string) string {
	return s.ephemeralPrefix() + hash
}

func (s *Store) ephemeralIndexKey(userID string, kind store.EphemeralKind) string {
	return s.prefix + ":et:user:" + userID + ":" + string(kind)
}

func (s *Store) expireAt(expiresAt time.Time) string {
	return formatMillis(expiresAt.Add(s.retention))
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func formatOptionalMillis(t *time.Time) string {
	if t == nil {
		return "0"
	}
	return formatMillis(*t)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseOptionalMillis(v string) *time.Time {
	t := parseMillis(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func pairs(kv ...string) []interface{} {
	out := make([]interface{}, len(kv))
	for i, v := range kv {
		out[i] = v
	}
	return out
}
