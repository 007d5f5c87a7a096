package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/outbox"
	"github.com/mcdev12/mentorlive/go/internal/sqlutil"
)

// Repository owns the canonical session records. Every transition runs
// in one transaction that row-locks the session, so the store is the
// single point of serialization per session id even across processes.
// The matching outbox row commits in the same transaction.
type Repository struct {
	pool   *pgxpool.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *pgxpool.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{
		pool:   pool,
		outbox: outboxRepo,
	}
}

// CreateSessionWithStart creates the session row and its first open
// interval. First writer wins: if the session already exists the
// insert is skipped and applied=false, so the caller can report
// "already started" instead of silently absorbing the duplicate.
func (r *Repository) CreateSessionWithStart(ctx context.Context, params CreateSessionParams, startedAt time.Time, payload []byte) (applied bool, err error) {
	err = sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, mentor_id, client_id, rate_cents)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, params.ID, params.MentorID, params.ClientID, params.RateCents)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		if _, err := tx.Exec(ctx, `
			INSERT INTO session_events (id, session_id, start_time)
			VALUES ($1, $2, $3)
		`, uuid.New(), params.ID, startedAt); err != nil {
			return fmt.Errorf("failed to append first interval: %w", err)
		}

		return r.outbox.InsertSessionStarted(ctx, tx, params.ID, payload)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Pause closes the open interval. applied=false means there was no
// open interval when the statement ran: the session is paused, ended
// or unstarted, and the caller lost whatever race brought it here.
func (r *Repository) Pause(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (applied bool, err error) {
	err = sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.lockSession(ctx, tx, id); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE session_events SET end_time = $2
			WHERE session_id = $1 AND end_time IS NULL
		`, id, at)
		if err != nil {
			return fmt.Errorf("failed to close open interval: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		if err := r.touchSession(ctx, tx, id); err != nil {
			return err
		}
		return r.outbox.InsertSessionPaused(ctx, tx, id, payload)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Resume appends a new open interval, guarded so it only applies to a
// started, uncompleted session with every interval closed.
func (r *Repository) Resume(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (applied bool, err error) {
	err = sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.lockSession(ctx, tx, id); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO session_events (id, session_id, start_time)
			SELECT $1, $2, $3
			WHERE EXISTS (
				SELECT 1 FROM sessions WHERE id = $2 AND completed = FALSE
			)
			AND EXISTS (
				SELECT 1 FROM session_events WHERE session_id = $2
			)
			AND NOT EXISTS (
				SELECT 1 FROM session_events WHERE session_id = $2 AND end_time IS NULL
			)
		`, uuid.New(), id, at)
		if err != nil {
			return fmt.Errorf("failed to append interval: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		if err := r.touchSession(ctx, tx, id); err != nil {
			return err
		}
		return r.outbox.InsertSessionResumed(ctx, tx, id, payload)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// End closes the open interval if one exists, then marks the session
// completed. Completion is monotonic: a second end never applies.
func (r *Repository) End(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (applied bool, err error) {
	err = sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.lockSession(ctx, tx, id); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE session_events SET end_time = $2
			WHERE session_id = $1 AND end_time IS NULL
		`, id, at); err != nil {
			return fmt.Errorf("failed to close open interval: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET completed = TRUE, updated_at = now()
			WHERE id = $1 AND completed = FALSE
			AND EXISTS (SELECT 1 FROM session_events WHERE session_id = $1)
		`, id)
		if err != nil {
			return fmt.Errorf("failed to mark session completed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		return r.outbox.InsertSessionEnded(ctx, tx, id, payload)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// MarkPaid flips the paid flag exactly once, and only after
// completion. applied=false with no error means the guard filtered the
// update; the caller decides whether that is a duplicate or an error.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET paid = TRUE, updated_at = now()
		WHERE id = $1 AND completed = TRUE AND paid = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark session paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReviewed flips the reviewed flag exactly once, and only after
// payment.
func (r *Repository) MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET reviewed = TRUE, updated_at = now()
		WHERE id = $1 AND paid = TRUE AND reviewed = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark session reviewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSession loads a session and its full ordered event log.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var s models.Session
	err := r.pool.QueryRow(ctx, `
		SELECT id, mentor_id, client_id, rate_cents, completed, paid, reviewed, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.MentorID, &s.ClientID, &s.RateCents, &s.Completed, &s.Paid, &s.Reviewed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, start_time, end_time
		FROM session_events
		WHERE session_id = $1
		ORDER BY start_time
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StartTime, &e.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		s.Events = append(s.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session events: %w", err)
	}

	return &s, nil
}

// GetParty loads the lightweight identity the chat widget consumes.
func (r *Repository) GetParty(ctx context.Context, id uuid.UUID) (*models.Party, error) {
	var p models.Party
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, full_name, avatar_url
		FROM parties
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Username, &p.FullName, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get party: %w", err)
	}
	return &p, nil
}

// lockSession takes the per-session row lock that serializes
// transitions, and surfaces unknown ids as ErrNotFound.
func (r *Repository) lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to lock session: %w", err)
	}
	return nil
}

func (r *Repository) touchSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
