package session

import (
	"fmt"
	"time"

	"github.com/mcdev12/mentorlive/go/internal/models"
)

// Elapsed derives the total active duration and running flag from a
// session's event log. It is pure: "now" is injected so the same log
// always yields the same answer at a fixed instant, and the open
// interval (if any) is valued at now - start.
//
// Malformed logs are rejected, never clamped; the store must not
// contain them, so an error here means the caller fed it unvalidated
// input.
func Elapsed(events []models.SessionEvent, now time.Time) (seconds int64, active bool, err error) {
	var total time.Duration
	for i, e := range events {
		if e.StartTime.IsZero() {
			return 0, false, fmt.Errorf("event %d: missing start_time", i)
		}
		if i > 0 {
			prev := events[i-1]
			if prev.EndTime == nil {
				return 0, false, fmt.Errorf("event %d: previous interval still open", i)
			}
			if e.StartTime.Before(*prev.EndTime) {
				return 0, false, fmt.Errorf("event %d: overlaps previous interval", i)
			}
		}
		if e.EndTime != nil {
			if e.EndTime.Before(e.StartTime) {
				return 0, false, fmt.Errorf("event %d: end_time precedes start_time", i)
			}
			total += e.EndTime.Sub(e.StartTime)
			continue
		}
		// Open interval: must be the last one, and now must not precede it.
		if now.Before(e.StartTime) {
			return 0, false, fmt.Errorf("event %d: open interval starts after now", i)
		}
		total += now.Sub(e.StartTime)
		active = true
	}
	return int64(total / time.Second), active, nil
}
