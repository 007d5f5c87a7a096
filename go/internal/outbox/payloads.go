package outbox

import "time"

// Event payload types shared between the session and relay packages.
// None of them carries elapsed time: receivers must re-query the
// authoritative snapshot instead of trusting relayed values.

// SessionStartedPayload is the payload for a SessionStarted event.
type SessionStartedPayload struct {
	SessionID string    `json:"session_id"`
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
}

// SessionPausedPayload is the payload for a SessionPaused event.
type SessionPausedPayload struct {
	SessionID string    `json:"session_id"`
	PausedBy  string    `json:"paused_by"`
	PausedAt  time.Time `json:"paused_at"`
}

// SessionResumedPayload is the payload for a SessionResumed event.
type SessionResumedPayload struct {
	SessionID string    `json:"session_id"`
	ResumedBy string    `json:"resumed_by"`
	ResumedAt time.Time `json:"resumed_at"`
}

// SessionEndedPayload is the payload for a SessionEnded event.
type SessionEndedPayload struct {
	SessionID string    `json:"session_id"`
	EndedBy   string    `json:"ended_by"`
	EndedAt   time.Time `json:"ended_at"`
}
