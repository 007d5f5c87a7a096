package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mentorlive/go/internal/billing"
	"github.com/mcdev12/mentorlive/go/internal/outbox"
	"github.com/mcdev12/mentorlive/go/internal/relay"
	"github.com/mcdev12/mentorlive/go/internal/session"
)

type Services struct {
	Session *session.Service
	Billing *billing.Service
	Relay   *relay.Service
	Outbox  *outbox.Worker

	publisher *outbox.NATSPublisher
}

func setupServices(pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store layer → App layer → Service layer

	outboxRepo := outbox.NewRepository()
	sessionRepo := session.NewRepository(pool, outboxRepo)

	gate := billing.NewGate(config.Billing.QuantumSeconds)

	sessionApp := session.NewApp(sessionRepo, gate, clockwork.NewRealClock(), config.Billing.SessionURLBase)

	verifier, err := setupVerifier(config)
	if err != nil {
		return nil, err
	}
	sessionService := session.NewService(sessionApp, verifier)

	billingApp := billing.NewApp(sessionRepo, gate)
	billingService := billing.NewService(billingApp, verifier, config.Billing.WebhookSecret)

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	publisherConfig := outbox.DefaultNATSPublisherConfig()
	publisherConfig.URL = config.NATS.URL
	publisher, err := outbox.NewNATSPublisher(publisherConfig, slogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox publisher: %w", err)
	}

	workerConfig := outbox.DefaultConfig()
	if config.Outbox.PollIntervalMS > 0 {
		workerConfig.PollInterval = time.Duration(config.Outbox.PollIntervalMS) * time.Millisecond
	}
	if config.Outbox.BatchSize > 0 {
		workerConfig.BatchSize = config.Outbox.BatchSize
	}
	worker := outbox.NewWorker(pool, outboxRepo, publisher, workerConfig, slogger)

	relayConfig := relay.DefaultConfig()
	relayConfig.JetStreamConfig.URL = config.NATS.URL
	relayService, err := relay.NewService(relayConfig, sessionApp, verifier)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create relay service: %w", err)
	}

	return &Services{
		Session:   sessionService,
		Billing:   billingService,
		Relay:     relayService,
		Outbox:    worker,
		publisher: publisher,
	}, nil
}

func setupVerifier(config *Config) (session.TokenVerifier, error) {
	tokens := make(map[string]uuid.UUID, len(config.Auth.DevTokens))
	for token, userIDStr := range config.Auth.DevTokens {
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q for dev token: %w", userIDStr, err)
		}
		tokens[token] = userID
	}
	return session.NewStaticTokenVerifier(tokens), nil
}

// Close releases resources not tied to the HTTP server lifecycle.
func (s *Services) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}
