package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/outbox"
	"github.com/rs/zerolog/log"
)

// SessionRepository defines what the app layer needs from the session
// store. Each transition method applies atomically and reports whether
// it took effect, so a loser of the commit race can be told to resync.
type SessionRepository interface {
	CreateSessionWithStart(ctx context.Context, params CreateSessionParams, startedAt time.Time, payload []byte) (bool, error)
	Pause(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (bool, error)
	Resume(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (bool, error)
	End(ctx context.Context, id uuid.UUID, at time.Time, payload []byte) (bool, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetParty(ctx context.Context, id uuid.UUID) (*models.Party, error)
}

// BillingGate is the pricing/gating surface the snapshot needs. The
// billing package provides the implementation; the app only asks.
type BillingGate interface {
	Price(elapsedSeconds, rateCents int64) int64
	PaymentRequired(s *models.Session) bool
	ReviewAllowed(s *models.Session) bool
}

// App is the session state machine. It validates transitions against
// freshly read state, serializes same-process callers per session id,
// and relies on the repository's row lock for cross-process ordering.
type App struct {
	repo  SessionRepository
	gate  BillingGate
	clock clockwork.Clock

	// sessionURLBase prefixes the frontend call page, e.g.
	// "https://domain.com/sessions/".
	sessionURLBase string

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sessionLock
}

// sessionLock is a reference-counted per-session mutex. Entries live
// only while a caller holds or waits on them, so the registry stays
// proportional to in-flight transitions rather than sessions ever seen.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewApp creates a new session App.
func NewApp(repo SessionRepository, gate BillingGate, clock clockwork.Clock, sessionURLBase string) *App {
	return &App{
		repo:           repo,
		gate:           gate,
		clock:          clock,
		sessionURLBase: sessionURLBase,
		locks:          make(map[uuid.UUID]*sessionLock),
	}
}

// Start creates the session on the first start action and opens its
// first interval. First writer wins; the concurrent duplicate gets an
// explicit "already started" rejection so its caller resynchronizes.
func (a *App) Start(ctx context.Context, req StartRequest, actorID uuid.UUID) (*models.Session, error) {
	if err := a.validateStartRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if actorID != req.MentorID && actorID != req.ClientID {
		return nil, ErrForbidden
	}

	unlock := a.lockSession(req.SessionID)
	defer unlock()

	now := a.clock.Now()
	payload, err := json.Marshal(outbox.SessionStartedPayload{
		SessionID: req.SessionID.String(),
		StartedBy: actorID.String(),
		StartedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SessionStarted payload: %w", err)
	}

	applied, err := a.repo.CreateSessionWithStart(ctx, CreateSessionParams{
		ID:        req.SessionID,
		MentorID:  req.MentorID,
		ClientID:  req.ClientID,
		RateCents: req.RateCents,
	}, now, payload)
	if err != nil {
		return nil, a.storeErr(err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: session already started", ErrInvalidTransition)
	}

	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("actor_id", actorID.String()).
		Msg("session started")

	return a.getSession(ctx, req.SessionID)
}

// Pause closes the open interval. Legal only while Active.
func (a *App) Pause(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	unlock := a.lockSession(sessionID)
	defer unlock()

	s, err := a.loadForActor(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	switch s.Status() {
	case models.SessionStatusActive:
	case models.SessionStatusPaused:
		return nil, fmt.Errorf("%w: session already paused", ErrInvalidTransition)
	case models.SessionStatusEnded:
		return nil, fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("%w: session not started", ErrInvalidTransition)
	}

	now := a.clock.Now()
	payload, err := json.Marshal(outbox.SessionPausedPayload{
		SessionID: sessionID.String(),
		PausedBy:  actorID.String(),
		PausedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SessionPaused payload: %w", err)
	}

	applied, err := a.repo.Pause(ctx, sessionID, now, payload)
	if err != nil {
		return nil, a.storeErr(err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: session state changed, re-fetch and retry", ErrConflict)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("actor_id", actorID.String()).
		Msg("session paused")

	return a.getSession(ctx, sessionID)
}

// Resume opens a new interval. Legal only while Paused.
func (a *App) Resume(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	unlock := a.lockSession(sessionID)
	defer unlock()

	s, err := a.loadForActor(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	switch s.Status() {
	case models.SessionStatusPaused:
	case models.SessionStatusActive:
		return nil, fmt.Errorf("%w: session already active", ErrInvalidTransition)
	case models.SessionStatusEnded:
		return nil, fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("%w: session not started", ErrInvalidTransition)
	}

	now := a.clock.Now()
	payload, err := json.Marshal(outbox.SessionResumedPayload{
		SessionID: sessionID.String(),
		ResumedBy: actorID.String(),
		ResumedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SessionResumed payload: %w", err)
	}

	applied, err := a.repo.Resume(ctx, sessionID, now, payload)
	if err != nil {
		return nil, a.storeErr(err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: session state changed, re-fetch and retry", ErrConflict)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("actor_id", actorID.String()).
		Msg("session resumed")

	return a.getSession(ctx, sessionID)
}

// End closes the open interval if any and marks the session completed.
// Legal from Active or Paused; irreversible.
func (a *App) End(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	unlock := a.lockSession(sessionID)
	defer unlock()

	s, err := a.loadForActor(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	switch s.Status() {
	case models.SessionStatusActive, models.SessionStatusPaused:
	case models.SessionStatusEnded:
		return nil, fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("%w: session not started", ErrInvalidTransition)
	}

	now := a.clock.Now()
	payload, err := json.Marshal(outbox.SessionEndedPayload{
		SessionID: sessionID.String(),
		EndedBy:   actorID.String(),
		EndedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SessionEnded payload: %w", err)
	}

	applied, err := a.repo.End(ctx, sessionID, now, payload)
	if err != nil {
		return nil, a.storeErr(err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: session state changed, re-fetch and retry", ErrConflict)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("actor_id", actorID.String()).
		Msg("session ended")

	return a.getSession(ctx, sessionID)
}

// Snapshot is the authoritative read: elapsed time re-derived from the
// latest committed event log, pricing and gates computed server-side,
// plus the identities the chat widget needs.
func (a *App) Snapshot(ctx context.Context, sessionID, actorID uuid.UUID) (*Snapshot, error) {
	s, err := a.loadForActor(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	elapsed, active, err := Elapsed(s.Events, now)
	if err != nil {
		return nil, fmt.Errorf("corrupt event log for session %s: %w", sessionID, err)
	}

	snap := &Snapshot{
		SessionID:       s.ID,
		Status:          s.Status(),
		ElapsedSeconds:  elapsed,
		Active:          active,
		Completed:       s.Completed,
		Paid:            s.Paid,
		Reviewed:        s.Reviewed,
		RateCents:       s.RateCents,
		PaymentRequired: actorID == s.ClientID && a.gate.PaymentRequired(s),
		ReviewAllowed:   actorID == s.ClientID && a.gate.ReviewAllowed(s),
		Events:          s.Events,
		SessionURL:      a.sessionURLBase + s.ID.String(),
		ServerTime:      now,
	}
	if s.Completed {
		price := a.gate.Price(elapsed, s.RateCents)
		snap.PriceCents = &price
	}

	mentor, err := a.repo.GetParty(ctx, s.MentorID)
	if err != nil {
		return nil, a.storeErr(err)
	}
	client, err := a.repo.GetParty(ctx, s.ClientID)
	if err != nil {
		return nil, a.storeErr(err)
	}
	snap.MentorProfile = mentor
	snap.ClientProfile = client
	if actorID == s.ClientID {
		snap.OtherUser = mentor
	} else {
		snap.OtherUser = client
	}

	return snap, nil
}

// ResolveParty verifies the actor belongs to the session and returns
// their chat identity. The relay uses it before upgrading a socket.
func (a *App) ResolveParty(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Party, error) {
	if _, err := a.loadForActor(ctx, sessionID, actorID); err != nil {
		return nil, err
	}
	party, err := a.repo.GetParty(ctx, actorID)
	if err != nil {
		return nil, a.storeErr(err)
	}
	return party, nil
}

func (a *App) validateStartRequest(req StartRequest) error {
	if req.SessionID == uuid.Nil {
		return errors.New("session_id is required")
	}
	if req.MentorID == uuid.Nil {
		return errors.New("mentor_id is required")
	}
	if req.ClientID == uuid.Nil {
		return errors.New("client_id is required")
	}
	if req.MentorID == req.ClientID {
		return errors.New("mentor and client must differ")
	}
	if req.RateCents < 0 {
		return errors.New("rate_cents cannot be negative")
	}
	return nil
}

func (a *App) loadForActor(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	s, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, a.storeErr(err)
	}
	if !s.IsParty(actorID) {
		return nil, ErrForbidden
	}
	return s, nil
}

func (a *App) getSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, a.storeErr(err)
	}
	return s, nil
}

// lockSession serializes same-process transitions per session id.
// Cross-process ordering comes from the store's row lock; this keeps
// local callers from burning a round trip just to lose the race.
func (a *App) lockSession(id uuid.UUID) func() {
	a.locksMu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &sessionLock{}
		a.locks[id] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, id)
		}
		a.locksMu.Unlock()
	}
}

// storeErr maps repository failures into the error taxonomy. Taxonomy
// errors pass through; anything else means the store misbehaved and
// the outcome is unknown, so callers must re-fetch.
func (a *App) storeErr(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
