package billing

import (
	"github.com/mcdev12/mentorlive/go/internal/models"
)

// DefaultQuantumSeconds is the billing quantum, 15 minutes. Rates are
// quoted in cents per quantum and any started quantum bills in full.
const DefaultQuantumSeconds = 900

// Gate computes prices and answers the billing questions the session
// snapshot asks. It holds no state beyond the quantum length.
type Gate struct {
	quantumSeconds int64
}

// NewGate creates a gate with the given quantum length in seconds.
// Zero or negative falls back to the default.
func NewGate(quantumSeconds int64) *Gate {
	if quantumSeconds <= 0 {
		quantumSeconds = DefaultQuantumSeconds
	}
	return &Gate{quantumSeconds: quantumSeconds}
}

// Price returns the amount owed in cents for elapsedSeconds of session
// time at rateCents per quantum. Partial quanta round up; zero elapsed
// time costs nothing.
func (g *Gate) Price(elapsedSeconds, rateCents int64) int64 {
	if elapsedSeconds <= 0 || rateCents <= 0 {
		return 0
	}
	quanta := (elapsedSeconds + g.quantumSeconds - 1) / g.quantumSeconds
	return quanta * rateCents
}

// PaymentRequired reports whether the session has completed without
// being paid for yet.
func (g *Gate) PaymentRequired(s *models.Session) bool {
	return s.Completed && !s.Paid
}

// ReviewAllowed reports whether a review may be submitted: exactly one
// review, and only after payment has settled.
func (g *Gate) ReviewAllowed(s *models.Session) bool {
	return s.Paid && !s.Reviewed
}
