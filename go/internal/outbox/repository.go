package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository persists outbox rows. Inserts run on the caller's
// transaction so a transition and its event commit or roll back
// together.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) insert(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, eventType string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO session_outbox (id, session_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), sessionID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

func (r *Repository) InsertSessionStarted(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, payload []byte) error {
	return r.insert(ctx, tx, sessionID, EventTypeSessionStarted, payload)
}

func (r *Repository) InsertSessionPaused(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, payload []byte) error {
	return r.insert(ctx, tx, sessionID, EventTypeSessionPaused, payload)
}

func (r *Repository) InsertSessionResumed(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, payload []byte) error {
	return r.insert(ctx, tx, sessionID, EventTypeSessionResumed, payload)
}

func (r *Repository) InsertSessionEnded(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, payload []byte) error {
	return r.insert(ctx, tx, sessionID, EventTypeSessionEnded, payload)
}

// FetchUnsent returns up to limit unsent events, row-locked so that
// concurrent workers never double-publish. Skip-locked keeps workers
// from blocking each other.
func (r *Repository) FetchUnsent(ctx context.Context, tx pgx.Tx, limit int32) ([]OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, session_id, event_type, payload, created_at
		FROM session_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSent stamps the given events as published.
func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		UPDATE session_outbox SET sent_at = now() WHERE id = ANY($1)
	`, ids); err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}
