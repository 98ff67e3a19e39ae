// Package cache stores inference responses under normalized request
// fingerprints so that near-identical requests skip the upstream call.
package cache

import (
	"context"
	"strings"
	"time"
)

// DefaultPrefixLength is how many runes of normalized text go into a key.
const DefaultPrefixLength = 100

const keyDelimiter = "|"

// Entry is one cached response. It is usable while now <= ExpiresAt.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Usable reports whether the entry may still be served at now.
func (e Entry) Usable(now time.Time) bool {
	return !now.After(e.ExpiresAt)
}

// Cache is a TTL-bounded response store. A miss and an expired entry are
// indistinguishable to callers.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string, ttlDays int)
	InvalidateScope(ctx context.Context, token string) (int, error)
	InvalidateAll(ctx context.Context) error
}

// Keyer derives cache keys from request text and context dimensions.
type Keyer struct {
	PrefixLength int
}

// Key lower-cases text, collapses whitespace, trims and truncates it to
// PrefixLength runes, then appends every context dimension.
func (k Keyer) Key(text string, dims ...string) string {
	limit := k.PrefixLength
	if limit <= 0 {
		limit = DefaultPrefixLength
	}

	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if r := []rune(normalized); len(r) > limit {
		normalized = string(r[:limit])
	}

	parts := make([]string, 0, len(dims)+1)
	parts = append(parts, normalized)
	parts = append(parts, dims...)
	return strings.Join(parts, keyDelimiter)
}

// ComputeKey is Key with the default prefix length.
func ComputeKey(text string, dims ...string) string {
	return Keyer{PrefixLength: DefaultPrefixLength}.Key(text, dims...)
}

func ttlFromDays(days, fallback int) time.Duration {
	if days <= 0 {
		days = fallback
	}
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
