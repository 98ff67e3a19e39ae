package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

const (
	backendRedis = "redis"
	scanBatch    = 200
)

// Redis is a Cache backed by Redis string keys. Expiry is delegated to
// Redis key TTLs, so no sweep is needed. Redis errors degrade to misses.
type Redis struct {
	client         redis.Cmdable
	clock          clockwork.Clock
	prefix         string
	defaultTTLDays int
}

// NewRedis creates a Redis-backed cache namespaced under cfg.RedisKeyPrefix.
func NewRedis(client redis.Cmdable, cfg config.CacheConfig, clock clockwork.Clock) *Redis {
	return &Redis{
		client:         client,
		clock:          clock,
		prefix:         cfg.RedisKeyPrefix,
		defaultTTLDays: cfg.DefaultTTLDays,
	}
}

func (c *Redis) redisKey(key string) string {
	return c.prefix + key
}

// Get returns the cached value for key if present and unexpired.
func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("cache: redis GET failed, treating as miss", "error", err)
		}
		metrics.CacheLookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
		return "", false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("cache: unmarshaling cached entry", "error", err)
		metrics.CacheLookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
		return "", false
	}

	// Redis TTL has second granularity; honour ExpiresAt exactly.
	if !entry.Usable(c.clock.Now()) {
		metrics.CacheLookupsTotal.WithLabelValues(backendRedis, "miss").Inc()
		return "", false
	}

	metrics.CacheLookupsTotal.WithLabelValues(backendRedis, "hit").Inc()
	return entry.Value, true
}

// Put stores value under key for ttlDays days.
func (c *Redis) Put(ctx context.Context, key, value string, ttlDays int) {
	now := c.clock.Now()
	ttl := ttlFromDays(ttlDays, c.defaultTTLDays)
	entry := Entry{Key: key, Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("cache: marshaling entry", "error", err)
		return
	}

	if err := c.client.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
		slog.Warn("cache: redis SET failed", "error", err)
	}
}

// InvalidateScope deletes every key containing token.
func (c *Redis) InvalidateScope(ctx context.Context, token string) (int, error) {
	n, err := c.deleteMatching(ctx, escapeGlob(c.prefix)+"*"+escapeGlob(token)+"*")
	if err != nil {
		return n, fmt.Errorf("invalidating scope %q: %w", token, err)
	}
	metrics.CacheInvalidationsTotal.WithLabelValues("scope").Inc()
	return n, nil
}

// InvalidateAll deletes every key under the cache prefix.
func (c *Redis) InvalidateAll(ctx context.Context) error {
	if _, err := c.deleteMatching(ctx, escapeGlob(c.prefix)+"*"); err != nil {
		return fmt.Errorf("invalidating all: %w", err)
	}
	metrics.CacheInvalidationsTotal.WithLabelValues("all").Inc()
	return nil
}

func (c *Redis) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("deleting keys: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
