package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/atlasrisk/atlas/internal/risk"
)

// DefaultCacheTTL is the profile cache lifetime when none is configured.
const DefaultCacheTTL = 5 * time.Minute

var cacheResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Subsystem: "profile_cache",
	Name:      "lookups_total",
	Help:      "Profile cache lookups by result (hit, miss, error).",
}, []string{"result"})

func init() {
	prometheus.MustRegister(cacheResults)
}

// RedisCache is a cache-aside decorator around a Store. Reads are served
// from Redis when present; writes go to the inner store and invalidate the
// cached entry. Cache failures are never surfaced: a broken cache degrades
// to the inner store, not to an unavailable profile.
type RedisCache struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
}

// Compile-time check.
var _ Store = (*RedisCache)(nil)

// NewRedisCache wraps inner with a Redis cache. A non-positive ttl selects
// DefaultCacheTTL.
func NewRedisCache(inner Store, rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(userID string) string {
	return "user:profile:" + userID
}

// Get returns the cached profile when present, otherwise loads from the
// inner store and populates the cache.
func (c *RedisCache) Get(ctx context.Context, userID string) (*UserProfile, error) {
	data, err := c.rdb.Get(ctx, cacheKey(userID)).Bytes()
	switch {
	case err == nil:
		var p UserProfile
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			cacheResults.WithLabelValues("hit").Inc()
			p.UserID = userID
			return &p, nil
		}
		// Corrupt entry; fall through and overwrite it below.
		cacheResults.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheResults.WithLabelValues("miss").Inc()
	default:
		cacheResults.WithLabelValues("error").Inc()
	}

	p, err := c.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		// Best effort; a failed SET just means the next read misses too.
		c.rdb.Set(ctx, cacheKey(userID), data, c.ttl)
	}
	return p, nil
}

// Update writes through to the inner store and drops the cached entry.
func (c *RedisCache) Update(ctx context.Context, ev *risk.Event) error {
	if err := c.inner.Update(ctx, ev); err != nil {
		return err
	}
	if ev != nil && ev.UserID != "" {
		c.rdb.Del(ctx, cacheKey(ev.UserID))
	}
	return nil
}

// MarkFraud writes through to the inner store and drops the cached entry.
func (c *RedisCache) MarkFraud(ctx context.Context, userID string) error {
	if err := c.inner.MarkFraud(ctx, userID); err != nil {
		return err
	}
	c.rdb.Del(ctx, cacheKey(userID))
	return nil
}
