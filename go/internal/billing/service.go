package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/session"
	"github.com/rs/zerolog/log"
)

// Service exposes the billing endpoints: the payment provider webhook
// and the client's review submission.
type Service struct {
	app           *App
	verifier      session.TokenVerifier
	webhookSecret string
}

// NewService creates a new billing HTTP service.
func NewService(app *App, verifier session.TokenVerifier, webhookSecret string) *Service {
	return &Service{app: app, verifier: verifier, webhookSecret: webhookSecret}
}

// RegisterRoutes registers the billing endpoints on the mux. The
// webhook stays unregistered without a shared secret: an empty secret
// matches an empty header, which would let anyone mark sessions paid.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	if s.webhookSecret != "" {
		mux.HandleFunc("POST /api/payments/webhook", s.handleWebhook)
	} else {
		log.Warn().Msg("webhook secret not configured, payment webhook disabled")
	}
	mux.HandleFunc("POST /api/sessions/{id}/review", s.handleReview)
}

type webhookBody struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleWebhook receives payment confirmations from the provider. It
// is authenticated by a shared secret, not a user token.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if s.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.webhookSecret)) != 1 {
		http.Error(w, "Invalid webhook secret", http.StatusUnauthorized)
		return
	}

	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		http.Error(w, "Invalid session_id", http.StatusBadRequest)
		return
	}
	if body.Status != "succeeded" {
		// Failed or pending attempts never flip the paid flag. Ack so
		// the provider stops retrying.
		log.Info().Str("session_id", body.SessionID).Str("status", body.Status).Msg("ignoring non-success payment event")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.app.ApplyPaid(r.Context(), sessionID); err != nil {
		writeBillingError(w, err, sessionID, "webhook")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) handleReview(w http.ResponseWriter, r *http.Request) {
	token := session.BearerToken(r)
	if token == "" {
		http.Error(w, "Missing bearer token", http.StatusUnauthorized)
		return
	}
	actorID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "Invalid bearer token", http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid session ID format", http.StatusBadRequest)
		return
	}

	if err := s.app.SubmitReview(r.Context(), sessionID, actorID); err != nil {
		writeBillingError(w, err, sessionID, "review")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeBillingError(w http.ResponseWriter, err error, sessionID uuid.UUID, action string) {
	switch {
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrForbidden):
		http.Error(w, "Not allowed for this session", http.StatusForbidden)
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrUpstreamUnavailable):
		http.Error(w, "Session store unavailable, try again", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Str("session_id", sessionID.String()).Str("action", action).Msg("unhandled billing error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
