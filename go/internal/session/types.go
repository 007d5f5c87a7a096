package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
)

// StartRequest carries everything needed to create a session on the
// first start action. Rate is copied from the mentor profile by the
// caller and frozen for the lifetime of the session.
type StartRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	MentorID  uuid.UUID `json:"mentor_id"`
	ClientID  uuid.UUID `json:"client_id"`
	RateCents int64     `json:"rate_cents"`
}

// CreateSessionParams is the repository-level creation payload.
type CreateSessionParams struct {
	ID        uuid.UUID
	MentorID  uuid.UUID
	ClientID  uuid.UUID
	RateCents int64
}

// Snapshot is the authoritative read of a session: elapsed time
// re-derived from the stored event log, never from client ticks.
type Snapshot struct {
	SessionID       uuid.UUID             `json:"session_id"`
	Status          models.SessionStatus  `json:"status"`
	ElapsedSeconds  int64                 `json:"elapsed_seconds"`
	Active          bool                  `json:"active"`
	Completed       bool                  `json:"completed"`
	Paid            bool                  `json:"paid"`
	Reviewed        bool                  `json:"reviewed"`
	RateCents       int64                 `json:"rate_cents"`
	PriceCents      *int64                `json:"price_cents,omitempty"` // set once completed
	PaymentRequired bool                  `json:"payment_required"`
	ReviewAllowed   bool                  `json:"review_allowed"`
	Events          []models.SessionEvent `json:"events"`
	MentorProfile   *models.Party         `json:"mentor_profile,omitempty"`
	ClientProfile   *models.Party         `json:"client_profile,omitempty"`
	OtherUser       *models.Party         `json:"other_user,omitempty"`
	SessionURL      string                `json:"session_url,omitempty"`
	ServerTime      time.Time             `json:"server_time"`
}
