package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/rs/zerolog/log"
)

// TokenVerifier resolves a bearer token to the authenticated user.
// Production wires the marketplace's identity service; development
// uses a static table.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (uuid.UUID, error)
}

// StaticTokenVerifier maps fixed tokens to user ids. Only suitable for
// local development and tests.
type StaticTokenVerifier struct {
	tokens map[string]uuid.UUID
}

// NewStaticTokenVerifier creates a verifier from a token -> user id table.
func NewStaticTokenVerifier(tokens map[string]uuid.UUID) *StaticTokenVerifier {
	return &StaticTokenVerifier{tokens: tokens}
}

func (v *StaticTokenVerifier) Verify(_ context.Context, token string) (uuid.UUID, error) {
	id, ok := v.tokens[token]
	if !ok {
		return uuid.Nil, errors.New("unknown token")
	}
	return id, nil
}

// Service exposes the session state machine over HTTP. Transitions are
// POSTs, the snapshot is a GET, and every route requires a bearer token.
type Service struct {
	app      *App
	verifier TokenVerifier
}

// NewService creates a new session HTTP service.
func NewService(app *App, verifier TokenVerifier) *Service {
	return &Service{app: app, verifier: verifier}
}

// App returns the underlying state machine, for wiring the relay.
func (s *Service) App() *App {
	return s.app
}

// RegisterRoutes registers the session endpoints on the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{id}/start", s.withAuth(s.handleStart))
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.withAuth(s.handlePause))
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.withAuth(s.handleResume))
	mux.HandleFunc("POST /api/sessions/{id}/end", s.withAuth(s.handleEnd))
	mux.HandleFunc("GET /api/sessions/{id}", s.withAuth(s.handleSnapshot))
}

// BearerToken extracts the bearer token from an Authorization header,
// falling back to the access_token query parameter for websocket
// clients that cannot set headers.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

type authedHandler func(w http.ResponseWriter, r *http.Request, actorID uuid.UUID)

func (s *Service) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		actorID, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, "Invalid bearer token", http.StatusUnauthorized)
			return
		}
		next(w, r, actorID)
	}
}

type startBody struct {
	MentorID  string `json:"mentor_id"`
	ClientID  string `json:"client_id"`
	RateCents int64  `json:"rate_cents"`
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) {
	sessionID, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	mentorID, err := uuid.Parse(body.MentorID)
	if err != nil {
		http.Error(w, "Invalid mentor_id", http.StatusBadRequest)
		return
	}
	clientID, err := uuid.Parse(body.ClientID)
	if err != nil {
		http.Error(w, "Invalid client_id", http.StatusBadRequest)
		return
	}

	sess, err := s.app.Start(r.Context(), StartRequest{
		SessionID: sessionID,
		MentorID:  mentorID,
		ClientID:  clientID,
		RateCents: body.RateCents,
	}, actorID)
	if err != nil {
		writeDomainError(w, err, sessionID, "start")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) {
	s.handleTransition(w, r, actorID, "pause", s.app.Pause)
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) {
	s.handleTransition(w, r, actorID, "resume", s.app.Resume)
}

func (s *Service) handleEnd(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) {
	s.handleTransition(w, r, actorID, "end", s.app.End)
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, actorID uuid.UUID, action string, fn func(context.Context, uuid.UUID, uuid.UUID) (*models.Session, error)) {
	sessionID, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	sess, err := fn(r.Context(), sessionID, actorID)
	if err != nil {
		writeDomainError(w, err, sessionID, action)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func sessionIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request, actorID uuid.UUID) {
	sessionID, ok := sessionIDFromPath(w, r)
	if !ok {
		return
	}

	snap, err := s.app.Snapshot(r.Context(), sessionID, actorID)
	if err != nil {
		writeDomainError(w, err, sessionID, "snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeDomainError maps taxonomy errors to status codes. Unknown
// errors are logged and surfaced as an opaque 500.
func writeDomainError(w http.ResponseWriter, err error, sessionID uuid.UUID, action string) {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Not a party to this session", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrUpstreamUnavailable):
		http.Error(w, "Session store unavailable, try again", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Str("session_id", sessionID.String()).Str("action", action).Msg("unhandled session error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
