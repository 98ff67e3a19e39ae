package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/inferguard/internal/config"
)

const (
	eventRetention   = 7 * 24 * time.Hour
	duplicatesWindow = 2 * time.Minute
	drainTimeout     = 2 * time.Second
)

// Client owns the NATS connection used to publish quota and cache events.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient connects to NATS and makes sure the event stream exists.
// Connection loss after startup is tolerated; Healthy reports it.
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("inferguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected, events buffered until reconnect", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamEvents,
		Description: "inferguard usage, admission and cache events",
		Subjects:    []string{SubjectEventsWildcard},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      eventRetention,
		Duplicates:  duplicatesWindow,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating stream %s: %w", StreamEvents, err)
	}

	slog.Info("connected to NATS", "url", cfg.URL, "stream", StreamEvents)
	return &Client{conn: nc, js: js}, nil
}

func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is currently up.
func (c *Client) Healthy() bool {
	return c.conn.IsConnected()
}

// Close waits up to drainTimeout for pending async publishes, then drains
// the connection.
func (c *Client) Close() {
	select {
	case <-c.js.PublishAsyncComplete():
	case <-time.After(drainTimeout):
		slog.Warn("NATS async publishes still pending at shutdown", "pending", c.js.PublishAsyncPending())
	}

	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining NATS connection", "error", err)
	}
}
