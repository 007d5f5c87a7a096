package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/session"
	"github.com/rs/zerolog/log"
)

// BillingRepository is the slice of the session store the billing flow
// needs. MarkPaid and MarkReviewed are monotonic guarded writes that
// report whether this call flipped the flag.
type BillingRepository interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (bool, error)
	MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error)
}

// App applies payment confirmations and review submissions against the
// gate's rules.
type App struct {
	repo BillingRepository
	gate *Gate
}

// NewApp creates a new billing App.
func NewApp(repo BillingRepository, gate *Gate) *App {
	return &App{repo: repo, gate: gate}
}

// Gate exposes the pricing gate, for wiring into the session snapshot.
func (a *App) Gate() *Gate {
	return a.gate
}

// ApplyPaid records a settled payment for the session. The payment
// provider retries webhooks, so a confirmation for an already paid
// session is a no-op rather than an error.
func (a *App) ApplyPaid(ctx context.Context, sessionID uuid.UUID) error {
	s, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return a.storeErr(err)
	}
	if s.Paid {
		log.Info().Str("session_id", sessionID.String()).Msg("duplicate payment confirmation ignored")
		return nil
	}
	if !s.Completed {
		return fmt.Errorf("%w: session has not completed", session.ErrInvalidTransition)
	}

	applied, err := a.repo.MarkPaid(ctx, sessionID)
	if err != nil {
		return a.storeErr(err)
	}
	if !applied {
		// A concurrent retry got there first. Same outcome.
		log.Info().Str("session_id", sessionID.String()).Msg("payment already recorded")
		return nil
	}

	log.Info().Str("session_id", sessionID.String()).Msg("session marked paid")
	return nil
}

// SubmitReview records that the client has reviewed the session. Only
// the client reviews, only after payment, and only once.
func (a *App) SubmitReview(ctx context.Context, sessionID, actorID uuid.UUID) error {
	s, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return a.storeErr(err)
	}
	if actorID != s.ClientID {
		return session.ErrForbidden
	}
	if s.Reviewed {
		return fmt.Errorf("%w: session already reviewed", session.ErrInvalidTransition)
	}
	if !s.Paid {
		return fmt.Errorf("%w: session has not been paid for", session.ErrInvalidTransition)
	}

	applied, err := a.repo.MarkReviewed(ctx, sessionID)
	if err != nil {
		return a.storeErr(err)
	}
	if !applied {
		return fmt.Errorf("%w: review state changed, re-fetch and retry", session.ErrConflict)
	}

	log.Info().Str("session_id", sessionID.String()).Str("actor_id", actorID.String()).Msg("session reviewed")
	return nil
}

func (a *App) storeErr(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", session.ErrUpstreamUnavailable, err)
}
