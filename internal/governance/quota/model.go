package quota

import "time"

// Window is one calendar-aligned call budget (hourly or daily).
// Count only grows inside a window and drops to zero when the anchor's
// calendar unit no longer matches the clock.
type Window struct {
	Count  int       `json:"count"`
	Limit  int       `json:"limit"`
	Anchor time.Time `json:"window_anchor"`
}

// Percentage returns Count as a share of Limit, in percent.
func (w Window) Percentage() float64 {
	if w.Limit <= 0 {
		return 100
	}
	return float64(w.Count) / float64(w.Limit) * 100
}

// UsageRecord is one issued inference call. Kept for observability only,
// quota math never reads it.
type UsageRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	Tokens    *int      `json:"tokens,omitempty"`
}

// Stats is the API snapshot of current quota usage.
type Stats struct {
	DailyUsage       int     `json:"daily_usage"`
	DailyLimit       int     `json:"daily_limit"`
	HourlyUsage      int     `json:"hourly_usage"`
	HourlyLimit      int     `json:"hourly_limit"`
	DailyPercentage  float64 `json:"daily_percentage"`
	HourlyPercentage float64 `json:"hourly_percentage"`
	IsCritical       bool    `json:"is_critical"`
}

// Exhausted reports whether either window has reached its limit.
func (s Stats) Exhausted() bool {
	return s.DailyPercentage >= 100 || s.HourlyPercentage >= 100
}

// Tier names the rung of the degradation ladder a decision landed on.
type Tier string

const (
	TierOpen      Tier = "open"
	TierElevated  Tier = "elevated"
	TierCritical  Tier = "critical"
	TierExhausted Tier = "exhausted"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Priority int   `json:"priority"`
	Allowed  bool  `json:"allowed"`
	Tier     Tier  `json:"tier"`
	Stats    Stats `json:"stats"`
}
