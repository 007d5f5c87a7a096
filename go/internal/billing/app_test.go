package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/session"
)

var (
	sessionID = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	mentorID  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	clientID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

type fakeBillingRepo struct {
	session  *models.Session
	failNext error
}

func (r *fakeBillingRepo) consumeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *fakeBillingRepo) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	if err := r.consumeFailure(); err != nil {
		return nil, err
	}
	if r.session == nil || r.session.ID != id {
		return nil, session.ErrNotFound
	}
	cp := *r.session
	return &cp, nil
}

func (r *fakeBillingRepo) MarkPaid(_ context.Context, id uuid.UUID) (bool, error) {
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.session == nil || r.session.ID != id || !r.session.Completed || r.session.Paid {
		return false, nil
	}
	r.session.Paid = true
	return true, nil
}

func (r *fakeBillingRepo) MarkReviewed(_ context.Context, id uuid.UUID) (bool, error) {
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.session == nil || r.session.ID != id || !r.session.Paid || r.session.Reviewed {
		return false, nil
	}
	r.session.Reviewed = true
	return true, nil
}

func completedSession() *models.Session {
	return &models.Session{
		ID:        sessionID,
		MentorID:  mentorID,
		ClientID:  clientID,
		RateCents: 400,
		Completed: true,
	}
}

func TestApp_ApplyPaid(t *testing.T) {
	ctx := context.Background()
	repo := &fakeBillingRepo{session: completedSession()}
	app := NewApp(repo, NewGate(900))

	if err := app.ApplyPaid(ctx, sessionID); err != nil {
		t.Fatalf("ApplyPaid() error = %v", err)
	}
	if !repo.session.Paid {
		t.Fatal("session not marked paid")
	}

	// The provider retries webhooks; a duplicate is a no-op.
	if err := app.ApplyPaid(ctx, sessionID); err != nil {
		t.Errorf("duplicate ApplyPaid() error = %v, want nil", err)
	}
}

func TestApp_ApplyPaidBeforeCompletion(t *testing.T) {
	ctx := context.Background()
	repo := &fakeBillingRepo{session: completedSession()}
	repo.session.Completed = false
	app := NewApp(repo, NewGate(900))

	if err := app.ApplyPaid(ctx, sessionID); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("ApplyPaid on running session error = %v, want ErrInvalidTransition", err)
	}
	if repo.session.Paid {
		t.Error("running session was marked paid")
	}
}

func TestApp_ApplyPaidUnknownSession(t *testing.T) {
	app := NewApp(&fakeBillingRepo{}, NewGate(900))
	if err := app.ApplyPaid(context.Background(), sessionID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("ApplyPaid unknown session error = %v, want ErrNotFound", err)
	}
}

func TestApp_SubmitReview(t *testing.T) {
	ctx := context.Background()
	repo := &fakeBillingRepo{session: completedSession()}
	repo.session.Paid = true
	app := NewApp(repo, NewGate(900))

	if err := app.SubmitReview(ctx, sessionID, clientID); err != nil {
		t.Fatalf("SubmitReview() error = %v", err)
	}
	if !repo.session.Reviewed {
		t.Fatal("session not marked reviewed")
	}

	if err := app.SubmitReview(ctx, sessionID, clientID); !errors.Is(err, session.ErrInvalidTransition) {
		t.Errorf("second review error = %v, want ErrInvalidTransition", err)
	}
}

func TestApp_SubmitReviewGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("never while unpaid", func(t *testing.T) {
		repo := &fakeBillingRepo{session: completedSession()}
		app := NewApp(repo, NewGate(900))
		if err := app.SubmitReview(ctx, sessionID, clientID); !errors.Is(err, session.ErrInvalidTransition) {
			t.Errorf("unpaid review error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("mentor cannot review", func(t *testing.T) {
		repo := &fakeBillingRepo{session: completedSession()}
		repo.session.Paid = true
		app := NewApp(repo, NewGate(900))
		if err := app.SubmitReview(ctx, sessionID, mentorID); !errors.Is(err, session.ErrForbidden) {
			t.Errorf("mentor review error = %v, want ErrForbidden", err)
		}
	})

	t.Run("store failure surfaces as upstream", func(t *testing.T) {
		repo := &fakeBillingRepo{session: completedSession()}
		repo.session.Paid = true
		repo.failNext = errors.New("connection refused")
		app := NewApp(repo, NewGate(900))
		if err := app.SubmitReview(ctx, sessionID, clientID); !errors.Is(err, session.ErrUpstreamUnavailable) {
			t.Errorf("store failure error = %v, want ErrUpstreamUnavailable", err)
		}
	})
}
