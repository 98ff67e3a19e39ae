package cache

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

const backendMemory = "memory"

// RandomSource decides whether a miss triggers a sweep.
type RandomSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Memory is the in-process Cache. Expired entries stay in the table until
// a sweep removes them: each miss sweeps with probability sweepProbability,
// and StartSweeper can run a periodic sweep as well. There is no size cap.
type Memory struct {
	clock            clockwork.Clock
	rnd              RandomSource
	sweepProbability float64
	defaultTTLDays   int

	mu      sync.RWMutex
	entries map[string]Entry
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithRandomSource replaces the sweep coin.
func WithRandomSource(r RandomSource) MemoryOption {
	return func(m *Memory) { m.rnd = r }
}

// NewMemory creates an empty in-process cache.
func NewMemory(cfg config.CacheConfig, clock clockwork.Clock, opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:            clock,
		rnd:              globalRand{},
		sweepProbability: cfg.SweepProbability,
		defaultTTLDays:   cfg.DefaultTTLDays,
		entries:          make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached value for key if it has not expired.
func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	now := m.clock.Now()

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if ok && entry.Usable(now) {
		metrics.CacheLookupsTotal.WithLabelValues(backendMemory, "hit").Inc()
		return entry.Value, true
	}

	metrics.CacheLookupsTotal.WithLabelValues(backendMemory, "miss").Inc()
	if m.rnd.Float64() < m.sweepProbability {
		m.Sweep()
	}
	return "", false
}

// Put stores value under key for ttlDays days, replacing any previous entry.
// ttlDays <= 0 uses the configured default.
func (m *Memory) Put(_ context.Context, key, value string, ttlDays int) {
	now := m.clock.Now()
	entry := Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttlFromDays(ttlDays, m.defaultTTLDays)),
	}

	m.mu.Lock()
	m.entries[key] = entry
	size := len(m.entries)
	m.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(backendMemory).Set(float64(size))
}

// InvalidateScope drops every entry whose key contains token.
func (m *Memory) InvalidateScope(_ context.Context, token string) (int, error) {
	m.mu.Lock()
	removed := 0
	for key := range m.entries {
		if strings.Contains(key, token) {
			delete(m.entries, key)
			removed++
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	metrics.CacheInvalidationsTotal.WithLabelValues("scope").Inc()
	metrics.CacheEntries.WithLabelValues(backendMemory).Set(float64(size))
	return removed, nil
}

// InvalidateAll clears the cache.
func (m *Memory) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()

	metrics.CacheInvalidationsTotal.WithLabelValues("all").Inc()
	metrics.CacheEntries.WithLabelValues(backendMemory).Set(0)
	return nil
}

// Sweep deletes every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.clock.Now()

	m.mu.Lock()
	swept := 0
	for key, entry := range m.entries {
		if !entry.Usable(now) {
			delete(m.entries, key)
			swept++
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	if swept > 0 {
		metrics.CacheSweptTotal.Add(float64(swept))
	}
	metrics.CacheEntries.WithLabelValues(backendMemory).Set(float64(size))
	return swept
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// StartSweeper sweeps every interval until the returned stop function is
// called. A non-positive interval leaves only the lazy sweep in place.
func (m *Memory) StartSweeper(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := m.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				if swept := m.Sweep(); swept > 0 {
					slog.Debug("cache: swept expired entries", "count", swept, "remaining", m.Len())
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
