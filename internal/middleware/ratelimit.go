package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/aiox-platform/inferguard/internal/api"
)

// RateLimiter provides per-IP sliding-window rate limiting backed by Redis sorted sets.
type RateLimiter struct {
	client    redis.Cmdable
	clock     clockwork.Clock
	scope     string
	maxReqs   int
	windowSec int
}

// NewRateLimiter creates a rate limiter that allows maxReqs per windowSec
// seconds for each client IP. scope namespaces the Redis keys so separate
// route groups get separate budgets.
func NewRateLimiter(client redis.Cmdable, clock clockwork.Clock, scope string, maxReqs, windowSec int) *RateLimiter {
	return &RateLimiter{
		client:    client,
		clock:     clock,
		scope:     scope,
		maxReqs:   maxReqs,
		windowSec: windowSec,
	}
}

// Middleware enforces the limit and reports the budget in X-RateLimit-*
// headers. Redis errors fail open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := "inferguard:ratelimit:" + rl.scope + ":" + ip

		used, err := rl.hit(r.Context(), key)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "ip", ip)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.maxReqs))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.maxReqs-used-1, 0)))

		if used >= rl.maxReqs {
			w.Header().Set("Retry-After", strconv.Itoa(rl.windowSec))
			api.JSONErrorMessage(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// hit records one request and returns how many were already in the window.
func (rl *RateLimiter) hit(ctx context.Context, key string) (int, error) {
	now := rl.clock.Now()
	window := time.Duration(rl.windowSec) * time.Second
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit pipeline: %w", err)
	}
	return int(countCmd.Val()), nil
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For first (trusted reverse proxy)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
