package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Admin JWT secret guards the cache invalidation hooks
	if len(c.JWT.AdminSecret) < 32 {
		errs = append(errs, "JWT_ADMIN_SECRET must be at least 32 characters")
	}

	// Quota budgets
	if c.Quota.DailyLimit < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_DAILY_LIMIT must be positive, got %d", c.Quota.DailyLimit))
	}
	if c.Quota.HourlyLimit < 1 {
		errs = append(errs, fmt.Sprintf("QUOTA_HOURLY_LIMIT must be positive, got %d", c.Quota.HourlyLimit))
	}
	if c.Quota.ElevatedPercent <= 0 || c.Quota.ElevatedPercent >= c.Quota.CriticalPercent {
		errs = append(errs, "QUOTA_ELEVATED_PERCENT must be positive and below QUOTA_CRITICAL_PERCENT")
	}
	if c.Quota.CriticalPercent >= 100 {
		errs = append(errs, "QUOTA_CRITICAL_PERCENT must be below 100")
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a known location", c.Quota.Timezone))
	}
	if c.Quota.HistoryCapacity < 1 {
		errs = append(errs, "QUOTA_HISTORY_CAPACITY must be positive")
	}

	// Cache
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND must be memory or redis, got %q", c.Cache.Backend))
	}
	if c.Cache.SweepProbability < 0 || c.Cache.SweepProbability > 1 {
		errs = append(errs, "CACHE_SWEEP_PROBABILITY must be within 0–1")
	}
	if c.Cache.DefaultTTLDays < 1 {
		errs = append(errs, "CACHE_DEFAULT_TTL_DAYS must be positive")
	}
	if c.Cache.KeyPrefixLength < 1 {
		errs = append(errs, "CACHE_KEY_PREFIX_LENGTH must be positive")
	}

	// Sentiment
	if c.Sentiment.Priority < 1 || c.Sentiment.Priority > 10 {
		errs = append(errs, fmt.Sprintf("SENTIMENT_PRIORITY must be 1–10, got %d", c.Sentiment.Priority))
	}

	// Session store
	if c.Session.Store != "memory" && c.Session.Store != "redis" {
		errs = append(errs, fmt.Sprintf("SESSION_STORE must be memory or redis, got %q", c.Session.Store))
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.Redis.Enabled && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Missing inference credentials: warn only, sentiment degrades to no result
	if c.Sentiment.Endpoint == "" || c.Sentiment.APIKey == "" {
		slog.Warn("SENTIMENT_ENDPOINT or SENTIMENT_API_KEY is empty, sentiment analysis is disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
