package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aiox-platform/inferguard/internal/cache"
	"github.com/aiox-platform/inferguard/internal/governance/quota"
	"github.com/aiox-platform/inferguard/internal/metrics"
)

var (
	// ErrDenied is returned when admission control rejects a request that
	// has no fallback.
	ErrDenied = errors.New("inference denied by admission control")

	// ErrNotIssued marks a CallFunc failure that happened before anything
	// reached the upstream API, such as an open circuit breaker. Such
	// failures are not recorded against the quota.
	ErrNotIssued = errors.New("inference call not issued")
)

// Outcome describes how a request was served.
type Outcome string

const (
	OutcomeCached   Outcome = "cached"
	OutcomeCalled   Outcome = "called"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
)

// Result is what a CallFunc hands back after talking to the upstream API.
type Result struct {
	Text   string
	Tokens *int
	// NoStore keeps a successful result out of the cache.
	NoStore bool
}

// CallFunc performs the actual inference call.
type CallFunc func(ctx context.Context) (Result, error)

// Request describes one guarded inference call.
type Request struct {
	// Feature names the call site; it becomes the usage record endpoint.
	Feature  string
	Priority int
	// CacheKey is usually built with cache.ComputeKey. Empty disables caching.
	CacheKey     string
	CacheTTLDays int
	// Fallback is returned when admission denies or the call fails.
	Fallback string
}

// Response carries the text served to the caller and where it came from.
type Response struct {
	Text    string
	Outcome Outcome
}

// Gateway runs the cache, admission, call, record pipeline shared by every
// feature that talks to the inference API.
type Gateway struct {
	cache     cache.Cache
	admission *quota.Admission
}

// NewGateway wires a gateway. A nil cache disables caching entirely.
func NewGateway(c cache.Cache, admission *quota.Admission) *Gateway {
	return &Gateway{
		cache:     c,
		admission: admission,
	}
}

// Do serves req from the cache when possible, otherwise asks admission
// control and, when admitted, invokes call. Admission reserves a quota slot
// for the duration of the call. Every issued call is recorded against the
// quota whether or not it succeeds; see ErrNotIssued.
//
// A denied request with a fallback returns the fallback and a nil error.
// A denied request without one returns ErrDenied. A failed call returns the
// fallback text alongside the wrapped error.
func (g *Gateway) Do(ctx context.Context, req Request, call CallFunc) (Response, error) {
	feature := req.Feature
	if feature == "" {
		feature = "unknown"
	}

	if g.cache != nil && req.CacheKey != "" {
		if text, ok := g.cache.Get(ctx, req.CacheKey); ok {
			metrics.InferenceOutcomesTotal.WithLabelValues(feature, string(OutcomeCached)).Inc()
			return Response{Text: text, Outcome: OutcomeCached}, nil
		}
	}

	decision, slot := g.admission.Reserve(req.Priority)
	if !decision.Allowed {
		slog.Info("inference request denied",
			"feature", feature,
			"priority", decision.Priority,
			"tier", decision.Tier,
		)
		if req.Fallback == "" {
			metrics.InferenceOutcomesTotal.WithLabelValues(feature, string(OutcomeFailed)).Inc()
			return Response{Outcome: OutcomeFailed}, ErrDenied
		}
		metrics.InferenceOutcomesTotal.WithLabelValues(feature, string(OutcomeFallback)).Inc()
		return Response{Text: req.Fallback, Outcome: OutcomeFallback}, nil
	}

	res, err := call(ctx)
	if errors.Is(err, ErrNotIssued) {
		slot.Release()
	} else {
		slot.Commit(req.Feature, res.Tokens)
	}
	if err != nil {
		metrics.InferenceOutcomesTotal.WithLabelValues(feature, string(OutcomeFailed)).Inc()
		return Response{Text: req.Fallback, Outcome: OutcomeFailed}, fmt.Errorf("calling %s: %w", feature, err)
	}

	if g.cache != nil && req.CacheKey != "" && !res.NoStore {
		g.cache.Put(ctx, req.CacheKey, res.Text, req.CacheTTLDays)
	}

	metrics.InferenceOutcomesTotal.WithLabelValues(feature, string(OutcomeCalled)).Inc()
	return Response{Text: res.Text, Outcome: OutcomeCalled}, nil
}
