package session

import "errors"

// Error taxonomy for session coordination. Transitions are rejected
// outright rather than merged or ignored, so a stale caller always
// learns it must re-fetch authoritative state.
var (
	// ErrInvalidTransition is returned when an action is illegal in the
	// session's current state (second start, pause while paused, end
	// after completion).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden is returned when the actor is not a party to the
	// session.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned to the loser of a serialization race. The
	// caller must resynchronize from current state before retrying.
	ErrConflict = errors.New("conflict")

	// ErrUpstreamUnavailable is returned when the store cannot be
	// reached. The outcome of the attempted transition is unknown, so
	// callers must re-fetch state rather than assume failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
