package quota

import (
	"log/slog"
	"strconv"

	"github.com/aiox-platform/inferguard/internal/config"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

// Priority bounds. 1 is a core chat reply, 10 a purely decorative feature.
const (
	HighestPriority = 1
	LowestPriority  = 10

	criticalMaxPriority = 2
	elevatedMaxPriority = 5
)

// DecisionObserver is notified of every admission decision.
type DecisionObserver interface {
	AdmissionDecided(d Decision)
}

// Admission decides whether a caller may issue an inference call, shedding
// lower-priority work first as the quota windows fill up.
type Admission struct {
	tracker   *Tracker
	elevated  float64
	observers []DecisionObserver
}

// NewAdmission creates an Admission backed by tracker.
func NewAdmission(tracker *Tracker, cfg config.QuotaConfig) *Admission {
	elevated := cfg.ElevatedPercent
	if elevated <= 0 {
		elevated = 75
	}
	return &Admission{tracker: tracker, elevated: elevated}
}

// AddObserver registers o for decision notifications. Not safe to call
// concurrently with Decide.
func (a *Admission) AddObserver(o DecisionObserver) {
	a.observers = append(a.observers, o)
}

// Decide walks the degradation ladder for priority without reserving
// anything. Out-of-range priorities are clamped to 1–10. Calls admitted
// through Reserve and still in flight count as used.
func (a *Admission) Decide(priority int) Decision {
	priority = clampPriority(priority)

	t := a.tracker
	t.mu.Lock()
	t.resetStale(t.now())
	stats := t.projectedStatsLocked()
	t.mu.Unlock()

	d := a.ladder(priority, stats)
	a.report(d)
	return d
}

// Reserve decides like Decide and, when the call is admitted, holds a slot
// in both windows until the returned Reservation is committed or released.
// The check and the hold happen under one lock, so concurrent callers can
// not overshoot a limit. The Reservation is nil when the call is denied.
func (a *Admission) Reserve(priority int) (Decision, *Reservation) {
	priority = clampPriority(priority)

	t := a.tracker
	t.mu.Lock()
	t.resetStale(t.now())
	d := a.ladder(priority, t.projectedStatsLocked())
	if d.Allowed {
		t.pending++
	}
	t.mu.Unlock()

	a.report(d)
	if !d.Allowed {
		return d, nil
	}
	return d, &Reservation{tracker: t}
}

func (a *Admission) ladder(priority int, stats Stats) Decision {
	d := Decision{Priority: priority, Stats: stats}
	switch {
	case stats.Exhausted():
		d.Tier = TierExhausted
		d.Allowed = false
	case stats.IsCritical:
		d.Tier = TierCritical
		d.Allowed = priority <= criticalMaxPriority
	case stats.DailyPercentage >= a.elevated || stats.HourlyPercentage >= a.elevated:
		d.Tier = TierElevated
		d.Allowed = priority <= elevatedMaxPriority
	default:
		d.Tier = TierOpen
		d.Allowed = true
	}
	return d
}

func (a *Admission) report(d Decision) {
	metrics.AdmissionDecisionsTotal.WithLabelValues(string(d.Tier), strconv.FormatBool(d.Allowed)).Inc()
	if !d.Allowed {
		slog.Debug("admission denied",
			"priority", d.Priority,
			"tier", d.Tier,
			"hourly_pct", d.Stats.HourlyPercentage,
			"daily_pct", d.Stats.DailyPercentage,
		)
	}

	for _, o := range a.observers {
		o.AdmissionDecided(d)
	}
}

// CanMakeCall reports whether a call of the given priority is admitted.
func (a *Admission) CanMakeCall(priority int) bool {
	return a.Decide(priority).Allowed
}

// ShouldUseFallback reports the hard stop alone: true once either window
// is exhausted, regardless of priority.
func (a *Admission) ShouldUseFallback() bool {
	return a.tracker.Stats().Exhausted()
}

func clampPriority(p int) int {
	if p < HighestPriority {
		return HighestPriority
	}
	if p > LowestPriority {
		return LowestPriority
	}
	return p
}
