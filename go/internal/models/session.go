package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle position of a session, derived
// from its event log and completion flag.
type SessionStatus string

const (
	SessionStatusUnstarted SessionStatus = "UNSTARTED"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusEnded     SessionStatus = "ENDED"
)

// SessionEvent is one contiguous active interval within a session.
// A nil EndTime marks the interval as still open (the session is
// running); at most one event per session may be open at a time.
type SessionEvent struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Open reports whether the interval has not been closed yet.
func (e SessionEvent) Open() bool {
	return e.EndTime == nil
}

// Session is one billable timed engagement between a mentor and a
// client. The stored event log is the single source of truth for
// elapsed time; clients only ever hold advisory copies.
type Session struct {
	ID        uuid.UUID      `json:"id"`
	MentorID  uuid.UUID      `json:"mentor_id"`
	ClientID  uuid.UUID      `json:"client_id"`
	RateCents int64          `json:"rate_cents"` // cents per billing quantum, frozen at creation
	Events    []SessionEvent `json:"events"`
	Completed bool           `json:"completed"`
	Paid      bool           `json:"paid"`
	Reviewed  bool           `json:"reviewed"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Status derives the lifecycle state from the completion flag and the
// shape of the event log.
func (s *Session) Status() SessionStatus {
	switch {
	case s.Completed:
		return SessionStatusEnded
	case len(s.Events) == 0:
		return SessionStatusUnstarted
	case s.OpenEvent() != nil:
		return SessionStatusActive
	default:
		return SessionStatusPaused
	}
}

// OpenEvent returns the currently open interval, or nil if every
// interval is closed. The open interval is always the last one.
func (s *Session) OpenEvent() *SessionEvent {
	if len(s.Events) == 0 {
		return nil
	}
	last := &s.Events[len(s.Events)-1]
	if last.Open() {
		return last
	}
	return nil
}

// IsParty reports whether userID is the mentor or the client of the
// session. Everyone else is a third party and gets Forbidden.
func (s *Session) IsParty(userID uuid.UUID) bool {
	return userID == s.MentorID || userID == s.ClientID
}

// OtherPartyID returns the counterpart of userID within the session.
// The caller must have verified party membership first.
func (s *Session) OtherPartyID(userID uuid.UUID) uuid.UUID {
	if userID == s.ClientID {
		return s.MentorID
	}
	return s.ClientID
}
