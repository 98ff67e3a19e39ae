package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/inferguard/internal/governance/quota"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
// It also observes the quota tracker and admission controller; those
// notifications arrive on the request path, so they are published
// asynchronously and failures are only logged.
type Publisher struct {
	js    jetstream.JetStream
	clock clockwork.Clock
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream, clock clockwork.Clock) *Publisher {
	return &Publisher{js: js, clock: clock}
}

// CallRecorded implements quota.Observer.
func (p *Publisher) CallRecorded(rec quota.UsageRecord, stats quota.Stats) {
	id := uuid.NewString()
	p.publishAsync(SubjectUsageEvent, id, UsageEvent{
		ID:               id,
		Endpoint:         rec.Endpoint,
		Tokens:           rec.Tokens,
		DailyUsage:       stats.DailyUsage,
		HourlyUsage:      stats.HourlyUsage,
		DailyPercentage:  stats.DailyPercentage,
		HourlyPercentage: stats.HourlyPercentage,
		IsCritical:       stats.IsCritical,
		Timestamp:        rec.Timestamp,
	})
}

// AdmissionDecided implements quota.DecisionObserver. Only denials are
// published.
func (p *Publisher) AdmissionDecided(d quota.Decision) {
	if d.Allowed {
		return
	}
	id := uuid.NewString()
	p.publishAsync(SubjectAdmissionEvent, id, AdmissionEvent{
		ID:               id,
		Priority:         d.Priority,
		Allowed:          d.Allowed,
		Tier:             string(d.Tier),
		DailyPercentage:  d.Stats.DailyPercentage,
		HourlyPercentage: d.Stats.HourlyPercentage,
		Timestamp:        p.clock.Now(),
	})
}

// PublishCacheInvalidation publishes an admin cache invalidation.
func (p *Publisher) PublishCacheInvalidation(ctx context.Context, event CacheInvalidationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock.Now()
	}
	return p.publish(ctx, SubjectCacheInvalidate, event.ID, event)
}

// Events carry their id as Nats-Msg-Id so the stream drops retried duplicates.
func (p *Publisher) publish(ctx context.Context, subject, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(id))
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) publishAsync(subject, id string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Warn("marshaling event", "subject", subject, "error", err)
		return
	}
	if _, err := p.js.PublishAsync(subject, payload, jetstream.WithMsgID(id)); err != nil {
		slog.Warn("publishing event", "subject", subject, "error", err)
	}
}
