package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/mentorlive/go/internal/sqlutil"
)

// Config controls the polling worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int32
	MaxRetries   int
	RetryDelay   time.Duration
}

// DefaultConfig returns worker defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker drains the outbox: it polls for unsent transition events,
// publishes them, and marks them sent in the same transaction that
// locked them.
type Worker struct {
	pool      *pgxpool.Pool
	repo      *Repository
	publisher EventPublisher
	config    Config
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(pool *pgxpool.Pool, repo *Repository, publisher EventPublisher, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("outbox worker started",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", int(w.config.BatchSize)))

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	w.logger.Info("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	err := sqlutil.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		events, err := w.repo.FetchUnsent(ctx, tx, w.config.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		w.logger.Debug("processing outbox events", slog.Int("count", len(events)))

		var successfulIDs []uuid.UUID
		for _, event := range events {
			if err := w.publishWithRetry(ctx, event); err != nil {
				w.logger.Error("failed to publish event",
					slog.String("event_id", event.ID.String()),
					slog.String("event_type", event.EventType),
					slog.String("error", err.Error()))
				continue
			}
			successfulIDs = append(successfulIDs, event.ID)
		}

		if len(successfulIDs) > 0 {
			if err := w.repo.MarkSent(ctx, tx, successfulIDs); err != nil {
				return err
			}
			w.logger.Info("processed outbox events",
				slog.Int("total", len(events)),
				slog.Int("successful", len(successfulIDs)))
		}
		return nil
	})
	if err != nil {
		w.logger.Error("outbox pass failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			w.logger.Warn("failed to publish event, retrying",
				slog.String("event_id", event.ID.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
