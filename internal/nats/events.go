package nats

import "time"

// Stream names.
const (
	StreamEvents = "INFERGUARD_EVENTS"
)

// Subject constants.
const (
	SubjectEventsWildcard  = "inferguard.events.>"
	SubjectUsageEvent      = "inferguard.events.usage"
	SubjectAdmissionEvent  = "inferguard.events.admission"
	SubjectCacheInvalidate = "inferguard.events.cache.invalidated"
)

// UsageEvent is published after every call recorded against the quota.
type UsageEvent struct {
	ID               string    `json:"id"`
	Endpoint         string    `json:"endpoint"`
	Tokens           *int      `json:"tokens,omitempty"`
	DailyUsage       int       `json:"daily_usage"`
	HourlyUsage      int       `json:"hourly_usage"`
	DailyPercentage  float64   `json:"daily_percentage"`
	HourlyPercentage float64   `json:"hourly_percentage"`
	IsCritical       bool      `json:"is_critical"`
	Timestamp        time.Time `json:"timestamp"`
}

// AdmissionEvent is published when admission control turns a call away.
type AdmissionEvent struct {
	ID               string    `json:"id"`
	Priority         int       `json:"priority"`
	Allowed          bool      `json:"allowed"`
	Tier             string    `json:"tier"`
	DailyPercentage  float64   `json:"daily_percentage"`
	HourlyPercentage float64   `json:"hourly_percentage"`
	Timestamp        time.Time `json:"timestamp"`
}

// CacheInvalidationEvent is published when an admin clears cache entries.
type CacheInvalidationEvent struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"` // "all" or "token"
	Token     string    `json:"token,omitempty"`
	Removed   int       `json:"removed"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
