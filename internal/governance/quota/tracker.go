package quota

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

// Observer is notified after every recorded call, outside the tracker lock.
type Observer interface {
	CallRecorded(rec UsageRecord, stats Stats)
}

// Tracker keeps the hourly and daily call counters for the upstream
// inference API plus a bounded history of recent calls.
type Tracker struct {
	clock    clockwork.Clock
	loc      *time.Location
	critical float64
	capacity int

	mu        sync.Mutex
	hourly    Window
	daily     Window
	history   []UsageRecord
	observers []Observer
	// pending counts admitted calls that are neither recorded nor released.
	pending int
}

// NewTracker creates a Tracker whose windows are anchored at the clock's
// current time in the configured timezone.
func NewTracker(cfg config.QuotaConfig, clock clockwork.Clock) *Tracker {
	capacity := cfg.HistoryCapacity
	if capacity <= 0 {
		capacity = 100
	}
	critical := cfg.CriticalPercent
	if critical <= 0 {
		critical = 90
	}

	loc := cfg.Location()
	now := clock.Now().In(loc)
	return &Tracker{
		clock:    clock,
		loc:      loc,
		critical: critical,
		capacity: capacity,
		hourly:   Window{Limit: cfg.HourlyLimit, Anchor: now},
		daily:    Window{Limit: cfg.DailyLimit, Anchor: now},
		history:  make([]UsageRecord, 0, capacity),
	}
}

// AddObserver registers o for call notifications. Not safe to call
// concurrently with RecordCall.
func (t *Tracker) AddObserver(o Observer) {
	t.observers = append(t.observers, o)
}

// RecordCall counts one issued inference call against both windows.
// tokens may be nil when the upstream did not report usage.
func (t *Tracker) RecordCall(endpoint string, tokens *int) {
	t.record(endpoint, tokens, false)
}

func (t *Tracker) record(endpoint string, tokens *int, reserved bool) {
	t.mu.Lock()
	now := t.now()
	t.resetStale(now)
	if reserved && t.pending > 0 {
		t.pending--
	}

	t.hourly.Count++
	t.daily.Count++

	rec := UsageRecord{Timestamp: now, Endpoint: endpoint, Tokens: tokens}
	t.history = append(t.history, rec)
	if over := len(t.history) - t.capacity; over > 0 {
		t.history = append(t.history[:0], t.history[over:]...)
	}

	stats := t.statsLocked()
	t.mu.Unlock()

	metrics.QuotaCallsTotal.WithLabelValues(endpointLabel(endpoint)).Inc()
	metrics.QuotaUsage.WithLabelValues("hourly").Set(float64(stats.HourlyUsage))
	metrics.QuotaUsage.WithLabelValues("daily").Set(float64(stats.DailyUsage))

	for _, o := range t.observers {
		o.CallRecorded(rec, stats)
	}
}

// TrackCall records a call with no endpoint or token information.
func (t *Tracker) TrackCall() {
	t.RecordCall("", nil)
}

// Stats returns a usage snapshot after applying any pending window reset.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetStale(t.now())
	return t.statsLocked()
}

// Windows returns copies of the hourly and daily windows.
func (t *Tracker) Windows() (hourly, daily Window) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetStale(t.now())
	return t.hourly, t.daily
}

// Pending returns the number of admitted calls still in flight.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// projectedStatsLocked is statsLocked with in-flight calls counted as
// already recorded.
func (t *Tracker) projectedStatsLocked() Stats {
	hourly, daily := t.hourly, t.daily
	hourly.Count += t.pending
	daily.Count += t.pending
	return t.statsOf(hourly, daily)
}

// History returns the recent usage records, oldest first.
func (t *Tracker) History() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]UsageRecord, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) now() time.Time {
	return t.clock.Now().In(t.loc)
}

// resetStale zeroes each window whose calendar unit differs from now.
// Both comparisons use the full date so that the same hour on another
// day still starts a new hourly window.
func (t *Tracker) resetStale(now time.Time) {
	if !sameDay(t.daily.Anchor.In(t.loc), now) {
		t.daily.Count = 0
		t.daily.Anchor = now
	}
	if !sameHour(t.hourly.Anchor.In(t.loc), now) {
		t.hourly.Count = 0
		t.hourly.Anchor = now
	}
}

func (t *Tracker) statsLocked() Stats {
	return t.statsOf(t.hourly, t.daily)
}

func (t *Tracker) statsOf(hourly, daily Window) Stats {
	s := Stats{
		DailyUsage:       daily.Count,
		DailyLimit:       daily.Limit,
		HourlyUsage:      hourly.Count,
		HourlyLimit:      hourly.Limit,
		DailyPercentage:  daily.Percentage(),
		HourlyPercentage: hourly.Percentage(),
	}
	s.IsCritical = s.DailyPercentage >= t.critical || s.HourlyPercentage >= t.critical
	return s
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameHour(a, b time.Time) bool {
	return sameDay(a, b) && a.Hour() == b.Hour()
}

func endpointLabel(endpoint string) string {
	if endpoint == "" {
		return "unknown"
	}
	return endpoint
}

// Reservation holds one admitted call slot until the call is recorded or
// abandoned. Only the first Commit or Release takes effect.
type Reservation struct {
	tracker *Tracker
	once    sync.Once
}

// Commit records the call against the quota and frees the slot.
func (r *Reservation) Commit(endpoint string, tokens *int) {
	r.once.Do(func() { r.tracker.record(endpoint, tokens, true) })
}

// Release frees the slot without recording a call.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.tracker.mu.Lock()
		if r.tracker.pending > 0 {
			r.tracker.pending--
		}
		r.tracker.mu.Unlock()
	})
}
