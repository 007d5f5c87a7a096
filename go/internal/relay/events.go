package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/mentorlive/go/internal/models"
	"github.com/mcdev12/mentorlive/go/internal/outbox"
)

// SessionEvent is the wire envelope pushed to websocket clients.
type SessionEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType identifies the kind of relay message. These are advisory
// UI signals; the snapshot endpoint remains the source of truth.
type EventType string

const (
	EventTypePresence    EventType = "presence"
	EventTypePauseUpdate EventType = "pause_update"
	EventTypeEndUpdate   EventType = "end_update"
)

// PresencePayload announces a party joining or leaving the session room.
type PresencePayload struct {
	User   *models.Party `json:"user"`
	Status string        `json:"status"` // "online" or "offline"
}

// PauseUpdatePayload tells the counterpart the clock stopped or restarted.
// It carries no elapsed time; clients re-fetch the snapshot on receipt.
type PauseUpdatePayload struct {
	Action string `json:"action"` // "pause" or "resume"
}

// EndUpdatePayload signals that the session has ended.
type EndUpdatePayload struct{}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	PauseActionPause  = "pause"
	PauseActionResume = "resume"
)

// NewPresenceEvent builds a presence message for the given party.
func NewPresenceEvent(sessionID uuid.UUID, user *models.Party, status string) (*SessionEvent, error) {
	data, err := json.Marshal(PresencePayload{User: user, Status: status})
	if err != nil {
		return nil, fmt.Errorf("marshal presence payload: %w", err)
	}
	return &SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID.String(),
		Type:      EventTypePresence,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// FromOutboxEvent converts a durably published session transition into
// its websocket form. Start and resume both read as the clock running
// again, so they share the resume action.
func FromOutboxEvent(eventID, sessionID, eventType string, timestamp time.Time) (*SessionEvent, error) {
	var (
		wsType EventType
		data   any
	)
	switch eventType {
	case outbox.EventTypeSessionStarted, outbox.EventTypeSessionResumed:
		wsType = EventTypePauseUpdate
		data = PauseUpdatePayload{Action: PauseActionResume}
	case outbox.EventTypeSessionPaused:
		wsType = EventTypePauseUpdate
		data = PauseUpdatePayload{Action: PauseActionPause}
	case outbox.EventTypeSessionEnded:
		wsType = EventTypeEndUpdate
		data = EndUpdatePayload{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", wsType, err)
	}
	return &SessionEvent{
		ID:        eventID,
		SessionID: sessionID,
		Type:      wsType,
		Timestamp: timestamp,
		Data:      raw,
	}, nil
}
