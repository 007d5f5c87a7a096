package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventPublisher publishes committed transition events to the relay's
// transport. Publishing is best-effort by contract: correctness lives
// in the store, the relay only reduces latency.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// NATSPublisherConfig holds connection settings for the JetStream
// publisher.
type NATSPublisherConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // e.g. "session.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSPublisherConfig returns defaults matching the relay's
// consumer configuration.
func DefaultNATSPublisherConfig() NATSPublisherConfig {
	return NATSPublisherConfig{
		URL:           nats.DefaultURL,
		StreamName:    "SESSION_EVENTS",
		SubjectPrefix: "session.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes outbox events to a JetStream stream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSPublisherConfig
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures the session events
// stream exists.
func NewNATSPublisher(config NATSPublisherConfig, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(config.URL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(context.Background(), jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{config.SubjectPrefix + ".>"},
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &NATSPublisher{
		nc:     nc,
		js:     js,
		config: config,
		logger: logger,
	}, nil
}

// Publish sends one event envelope to its per-type subject.
func (p *NATSPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, event.EventType)

	envelope := map[string]interface{}{
		"eventId":   event.ID.String(),
		"eventType": event.EventType,
		"sessionId": event.SessionID.String(),
		"timestamp": event.CreatedAt,
		"payload":   json.RawMessage(event.Payload),
	}

	messageBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, messageBytes); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("published outbox event",
		slog.String("subject", subject),
		slog.String("event_id", event.ID.String()),
		slog.String("session_id", event.SessionID.String()))

	return nil
}

// Close tears down the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
