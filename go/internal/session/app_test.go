package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mentorlive/go/internal/models"
)

var (
	uuidFixture = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	mentorID    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	clientID    = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	strangerID  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

// fakeRepo mirrors the store's guarded-write semantics in memory so
// the state machine can be exercised without a database.
type fakeRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	parties  map[uuid.UUID]*models.Party

	// emitted records outbox event types in commit order.
	emitted []string

	// forceUnapplied makes the next transition report applied=false,
	// simulating a lost commit race against another process.
	forceUnapplied bool

	// failNext makes the next call return this error.
	failNext error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]*models.Session),
		parties: map[uuid.UUID]*models.Party{
			mentorID:   {ID: mentorID, Username: "mentor", FullName: "Mentor One"},
			clientID:   {ID: clientID, Username: "client", FullName: "Client One"},
			strangerID: {ID: strangerID, Username: "stranger", FullName: "Third Wheel"},
		},
	}
}

func (r *fakeRepo) consumeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *fakeRepo) CreateSessionWithStart(_ context.Context, params CreateSessionParams, startedAt time.Time, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.forceUnapplied {
		r.forceUnapplied = false
		return false, nil
	}
	if _, ok := r.sessions[params.ID]; ok {
		return false, nil
	}
	r.sessions[params.ID] = &models.Session{
		ID:        params.ID,
		MentorID:  params.MentorID,
		ClientID:  params.ClientID,
		RateCents: params.RateCents,
		Events: []models.SessionEvent{
			{ID: uuid.New(), SessionID: params.ID, StartTime: startedAt},
		},
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
	}
	r.emitted = append(r.emitted, "SessionStarted")
	return true, nil
}

func (r *fakeRepo) Pause(_ context.Context, id uuid.UUID, at time.Time, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.forceUnapplied {
		r.forceUnapplied = false
		return false, nil
	}
	s, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	ev := s.OpenEvent()
	if s.Completed || ev == nil {
		return false, nil
	}
	end := at
	ev.EndTime = &end
	s.UpdatedAt = at
	r.emitted = append(r.emitted, "SessionPaused")
	return true, nil
}

func (r *fakeRepo) Resume(_ context.Context, id uuid.UUID, at time.Time, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.forceUnapplied {
		r.forceUnapplied = false
		return false, nil
	}
	s, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Completed || len(s.Events) == 0 || s.OpenEvent() != nil {
		return false, nil
	}
	s.Events = append(s.Events, models.SessionEvent{ID: uuid.New(), SessionID: id, StartTime: at})
	s.UpdatedAt = at
	r.emitted = append(r.emitted, "SessionResumed")
	return true, nil
}

func (r *fakeRepo) End(_ context.Context, id uuid.UUID, at time.Time, _ []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return false, err
	}
	if r.forceUnapplied {
		r.forceUnapplied = false
		return false, nil
	}
	s, ok := r.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Completed || len(s.Events) == 0 {
		return false, nil
	}
	if ev := s.OpenEvent(); ev != nil {
		end := at
		ev.EndTime = &end
	}
	s.Completed = true
	s.UpdatedAt = at
	r.emitted = append(r.emitted, "SessionEnded")
	return true, nil
}

func (r *fakeRepo) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return nil, err
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Events = append([]models.SessionEvent(nil), s.Events...)
	return &cp, nil
}

func (r *fakeRepo) GetParty(_ context.Context, id uuid.UUID) (*models.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return nil, err
	}
	p, ok := r.parties[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeGate struct{}

func (fakeGate) Price(elapsedSeconds, rateCents int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	quanta := (elapsedSeconds + 899) / 900
	return quanta * rateCents
}

func (fakeGate) PaymentRequired(s *models.Session) bool { return s.Completed && !s.Paid }
func (fakeGate) ReviewAllowed(s *models.Session) bool   { return s.Paid && !s.Reviewed }

func newTestApp(repo *fakeRepo, clock clockwork.Clock) *App {
	return NewApp(repo, fakeGate{}, clock, "https://mentorlive.test/sessions/")
}

func startRequest() StartRequest {
	return StartRequest{
		SessionID: uuidFixture,
		MentorID:  mentorID,
		ClientID:  clientID,
		RateCents: 400,
	}
}

func TestApp_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	s, err := app.Start(ctx, startRequest(), clientID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.Status(); got != models.SessionStatusActive {
		t.Fatalf("after start status = %v, want ACTIVE", got)
	}

	clock.Advance(120 * time.Second)
	s, err = app.Pause(ctx, uuidFixture, mentorID)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got := s.Status(); got != models.SessionStatusPaused {
		t.Fatalf("after pause status = %v, want PAUSED", got)
	}

	clock.Advance(30 * time.Second)
	s, err = app.Resume(ctx, uuidFixture, clientID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := s.Status(); got != models.SessionStatusActive {
		t.Fatalf("after resume status = %v, want ACTIVE", got)
	}

	clock.Advance(250 * time.Second)
	s, err = app.End(ctx, uuidFixture, mentorID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := s.Status(); got != models.SessionStatusEnded {
		t.Fatalf("after end status = %v, want ENDED", got)
	}
	if len(s.Events) != 2 {
		t.Fatalf("event count = %d, want 2", len(s.Events))
	}

	elapsed, active, err := Elapsed(s.Events, clock.Now())
	if err != nil {
		t.Fatalf("Elapsed() error = %v", err)
	}
	if elapsed != 370 || active {
		t.Errorf("Elapsed() = (%d, %v), want (370, false)", elapsed, active)
	}

	wantEmitted := []string{"SessionStarted", "SessionPaused", "SessionResumed", "SessionEnded"}
	if diff := cmp.Diff(wantEmitted, repo.emitted); diff != "" {
		t.Errorf("emitted events mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Pause(ctx, uuidFixture, mentorID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pause before start error = %v, want ErrNotFound", err)
	}

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := app.Start(ctx, startRequest(), mentorID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("duplicate Start error = %v, want ErrInvalidTransition", err)
	}
	if _, err := app.Resume(ctx, uuidFixture, mentorID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while active error = %v, want ErrInvalidTransition", err)
	}

	if _, err := app.Pause(ctx, uuidFixture, mentorID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if _, err := app.Pause(ctx, uuidFixture, mentorID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause while paused error = %v, want ErrInvalidTransition", err)
	}

	if _, err := app.End(ctx, uuidFixture, mentorID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := app.End(ctx, uuidFixture, mentorID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("End after end error = %v, want ErrInvalidTransition", err)
	}
	if _, err := app.Resume(ctx, uuidFixture, mentorID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume after end error = %v, want ErrInvalidTransition", err)
	}
}

func TestApp_StartValidation(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(newFakeRepo(), clockwork.NewFakeClockAt(base))

	tests := []struct {
		name  string
		req   StartRequest
		actor uuid.UUID
		want  error
	}{
		{
			name:  "missing session id",
			req:   StartRequest{MentorID: mentorID, ClientID: clientID, RateCents: 400},
			actor: mentorID,
			want:  ErrInvalidTransition,
		},
		{
			name:  "mentor equals client",
			req:   StartRequest{SessionID: uuidFixture, MentorID: mentorID, ClientID: mentorID, RateCents: 400},
			actor: mentorID,
			want:  ErrInvalidTransition,
		},
		{
			name:  "negative rate",
			req:   StartRequest{SessionID: uuidFixture, MentorID: mentorID, ClientID: clientID, RateCents: -1},
			actor: mentorID,
			want:  ErrInvalidTransition,
		},
		{
			name:  "actor is not a party",
			req:   startRequest(),
			actor: strangerID,
			want:  ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := app.Start(ctx, tt.req, tt.actor); !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApp_ForbiddenActor(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	app := newTestApp(repo, clockwork.NewFakeClockAt(base))

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := app.Pause(ctx, uuidFixture, strangerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Pause by stranger error = %v, want ErrForbidden", err)
	}
	if _, err := app.Snapshot(ctx, uuidFixture, strangerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Snapshot by stranger error = %v, want ErrForbidden", err)
	}
}

func TestApp_ConflictOnLostRace(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	app := newTestApp(repo, clockwork.NewFakeClockAt(base))

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Validation sees an active session but another writer sneaks in
	// before our commit; the guarded write reports nothing applied.
	repo.forceUnapplied = true
	if _, err := app.Pause(ctx, uuidFixture, mentorID); !errors.Is(err, ErrConflict) {
		t.Errorf("Pause losing race error = %v, want ErrConflict", err)
	}
}

func TestApp_ConcurrentPauses(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Both parties hit pause at once. Exactly one wins; the other is
	// rejected and must resync, never silently absorbed.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, actor := range []uuid.UUID{mentorID, clientID} {
		wg.Add(1)
		go func(actor uuid.UUID) {
			defer wg.Done()
			_, err := app.Pause(ctx, uuidFixture, actor)
			errs <- err
		}(actor)
	}
	wg.Wait()
	close(errs)

	var successes, rejections int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
			rejections++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || rejections != 1 {
		t.Errorf("concurrent pauses = %d successes, %d rejections, want 1 and 1", successes, rejections)
	}

	s, err := app.getSession(ctx, uuidFixture)
	if err != nil {
		t.Fatalf("getSession() error = %v", err)
	}
	if s.OpenEvent() != nil {
		t.Error("open interval remains after pause")
	}
}

func TestApp_NoOpenEventAfterEnd(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(30 * time.Second)

	s, err := app.End(ctx, uuidFixture, mentorID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if s.OpenEvent() != nil {
		t.Error("open interval remains after end")
	}
	if !s.Completed {
		t.Error("session not completed after end")
	}
}

func TestApp_LockRegistryDrains(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Hammer one session from both parties. Transitions lose races and
	// that is fine here; the lock entry must not outlive its callers.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, actor := range []uuid.UUID{mentorID, clientID} {
			wg.Add(1)
			go func(actor uuid.UUID) {
				defer wg.Done()
				app.Pause(ctx, uuidFixture, actor)
				app.Resume(ctx, uuidFixture, actor)
			}(actor)
		}
	}
	wg.Wait()

	if _, err := app.End(ctx, uuidFixture, mentorID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	app.locksMu.Lock()
	remaining := len(app.locks)
	app.locksMu.Unlock()
	if remaining != 0 {
		t.Errorf("lock registry holds %d entries after all transitions returned, want 0", remaining)
	}
}

func TestApp_UpstreamFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	app := newTestApp(repo, clockwork.NewFakeClockAt(base))

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	repo.failNext = errors.New("connection refused")
	if _, err := app.Pause(ctx, uuidFixture, mentorID); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Pause with store down error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestApp_Snapshot(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Start(ctx, startRequest(), clientID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(901 * time.Second)
	if _, err := app.End(ctx, uuidFixture, clientID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	snap, err := app.Snapshot(ctx, uuidFixture, clientID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Status != models.SessionStatusEnded {
		t.Errorf("snapshot status = %v, want ENDED", snap.Status)
	}
	if snap.ElapsedSeconds != 901 || snap.Active {
		t.Errorf("snapshot elapsed = (%d, %v), want (901, false)", snap.ElapsedSeconds, snap.Active)
	}
	if snap.PriceCents == nil || *snap.PriceCents != 800 {
		t.Errorf("snapshot price = %v, want 800", snap.PriceCents)
	}
	if !snap.PaymentRequired {
		t.Error("snapshot payment_required = false for unpaid client, want true")
	}
	if snap.ReviewAllowed {
		t.Error("snapshot review_allowed = true before payment, want false")
	}
	if snap.OtherUser == nil || snap.OtherUser.ID != mentorID {
		t.Errorf("client's other_user = %v, want mentor", snap.OtherUser)
	}
	if want := "https://mentorlive.test/sessions/" + uuidFixture.String(); snap.SessionURL != want {
		t.Errorf("session_url = %q, want %q", snap.SessionURL, want)
	}

	// The mentor never sees client-side billing prompts.
	mentorSnap, err := app.Snapshot(ctx, uuidFixture, mentorID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if mentorSnap.PaymentRequired || mentorSnap.ReviewAllowed {
		t.Error("mentor snapshot shows billing prompts, want none")
	}
	if mentorSnap.OtherUser == nil || mentorSnap.OtherUser.ID != clientID {
		t.Errorf("mentor's other_user = %v, want client", mentorSnap.OtherUser)
	}
}

func TestApp_SnapshotInProgressHasNoPrice(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	repo := newFakeRepo()
	app := newTestApp(repo, clock)

	if _, err := app.Start(ctx, startRequest(), clientID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(60 * time.Second)

	snap, err := app.Snapshot(ctx, uuidFixture, clientID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.PriceCents != nil {
		t.Errorf("in-progress snapshot price = %d, want nil", *snap.PriceCents)
	}
	if snap.ElapsedSeconds != 60 || !snap.Active {
		t.Errorf("snapshot elapsed = (%d, %v), want (60, true)", snap.ElapsedSeconds, snap.Active)
	}
	if snap.PaymentRequired {
		t.Error("payment required before completion, want false")
	}
}

func TestApp_ResolveParty(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	app := newTestApp(repo, clockwork.NewFakeClockAt(base))

	if _, err := app.Start(ctx, startRequest(), mentorID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	party, err := app.ResolveParty(ctx, uuidFixture, clientID)
	if err != nil {
		t.Fatalf("ResolveParty() error = %v", err)
	}
	if party.Username != "client" {
		t.Errorf("party username = %q, want %q", party.Username, "client")
	}

	if _, err := app.ResolveParty(ctx, uuidFixture, strangerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("ResolveParty stranger error = %v, want ErrForbidden", err)
	}
}
