package models

import "github.com/google/uuid"

// PartyRole distinguishes the two sides of a session.
type PartyRole string

const (
	PartyRoleMentor PartyRole = "MENTOR"
	PartyRoleClient PartyRole = "CLIENT"
)

// Party is the lightweight identity of one side of a session. It
// carries exactly what the chat widget needs to open a one-to-one
// conversation; the core never inspects message content.
type Party struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
}
