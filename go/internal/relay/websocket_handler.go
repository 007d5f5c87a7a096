package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/session"
	"github.com/rs/zerolog/log"
)

// PartyResolver checks session membership and returns the chat
// identity for an authenticated user. The session App implements it.
type PartyResolver interface {
	ResolveParty(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Party, error)
}

// WebSocketHandler authenticates upgrade requests before handing the
// socket to the connection manager. Third parties are rejected here,
// never silently subscribed.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	resolver          PartyResolver
	verifier          session.TokenVerifier
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, resolver PartyResolver, verifier session.TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		resolver:          resolver,
		verifier:          verifier,
	}
}

// HandleSessionConnection handles websocket connections for a session.
// Browsers cannot set headers on websocket requests, so the token also
// rides the access_token query parameter.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionIDStr := r.URL.Query().Get("session_id")
	if sessionIDStr == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return
	}

	token := session.BearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	actorID, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	party, err := h.resolver.ResolveParty(r.Context(), sessionID, actorID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrForbidden):
			http.Error(w, "not a party to this session", http.StatusForbidden)
		case errors.Is(err, session.ErrNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrUpstreamUnavailable):
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		default:
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to resolve party")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, party, sessionID); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("user_id", actorID.String()).
			Msg("failed to upgrade websocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
