package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inferguard_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	QuotaCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_quota_calls_total",
			Help: "Inference calls recorded against the quota, by endpoint.",
		},
		[]string{"endpoint"},
	)

	QuotaUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferguard_quota_usage",
			Help: "Calls counted in the current quota window.",
		},
		[]string{"window"},
	)

	AdmissionDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_admission_decisions_total",
			Help: "Admission decisions, by ladder tier and outcome.",
		},
		[]string{"tier", "allowed"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_cache_lookups_total",
			Help: "Response cache lookups, by backend and result.",
		},
		[]string{"backend", "result"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferguard_cache_entries",
			Help: "Entries held by the response cache, expired ones included.",
		},
		[]string{"backend"},
	)

	CacheSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inferguard_cache_swept_total",
			Help: "Expired cache entries removed by sweeps.",
		},
	)

	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_cache_invalidations_total",
			Help: "Cache invalidations, by scope.",
		},
		[]string{"scope"},
	)

	InferenceOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_inference_outcomes_total",
			Help: "Gateway outcomes, by feature and outcome (cached, called, fallback, failed).",
		},
		[]string{"feature", "outcome"},
	)

	SentimentAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferguard_sentiment_analyses_total",
			Help: "Sentiment analysis attempts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		QuotaCallsTotal,
		QuotaUsage,
		AdmissionDecisionsTotal,
		CacheLookupsTotal,
		CacheEntries,
		CacheSweptTotal,
		CacheInvalidationsTotal,
		InferenceOutcomesTotal,
		SentimentAnalysesTotal,
	)
}
