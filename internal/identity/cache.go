package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dyluth/warden/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a found or unset name is cached.
const DefaultCacheTTL = 30 * time.Minute

// CachedStore caches lookups in Redis. Found and unset results are cached; failures never are.
// A Redis outage degrades to direct store lookups.
type CachedStore struct {
	next     Store
	rdb      *redis.Client
	instance string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCachedStore wraps next with a Redis cache.
func NewCachedStore(next Store, rdb *redis.Client, instance string, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, rdb: rdb, instance: instance, ttl: ttl, logger: logger.With("component", "identity_cache")}
}

func (c *CachedStore) key(userID string) string {
	return ledger.NameKey(c.instance, userID)
}

// Lookup implements Store. Cached values are "=name" for found and "-" for unset.
func (c *CachedStore) Lookup(ctx context.Context, userID string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(userID)).Result()
	switch {
	case err == nil:
		if val == "-" {
			return "", false, nil
		}
		return strings.TrimPrefix(val, "="), true, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("name_cache_read_failed", "user_id", userID, "error", err)
	}

	name, found, err := c.next.Lookup(ctx, userID)
	if err != nil {
		return "", false, err
	}

	val = "-"
	if found {
		val = "=" + name
	}
	if err := c.rdb.Set(ctx, c.key(userID), val, c.ttl).Err(); err != nil {
		c.logger.Warn("name_cache_write_failed", "user_id", userID, "error", err)
	}
	return name, found, nil
}

// Invalidate drops a cached entry.
func (c *CachedStore) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}

// Ping checks the underlying store only.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

// Close closes the underlying store. The Redis client is owned by the caller.
func (c *CachedStore) Close() error {
	return c.next.Close()
}
