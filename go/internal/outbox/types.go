package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Transition event types recorded in the outbox. One row is inserted
// in the same transaction that commits the transition, so the relay
// only ever sees durably applied state.
const (
	EventTypeSessionStarted = "SessionStarted"
	EventTypeSessionPaused  = "SessionPaused"
	EventTypeSessionResumed = "SessionResumed"
	EventTypeSessionEnded   = "SessionEnded"
)

// OutboxEvent represents an outbox event for the application layer.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}
