// Package deadline is the single source of check-in deadline arithmetic.
// The check-in processor, the sweep scanner, and the release executor all
// call this package instead of re-deriving deadlines, so the overdue check
// and the next-deadline computation can never drift apart.
package deadline

import (
	"time"

	"github.com/roach88/vigil/internal/domain"
)

// Day is the unit of check-in intervals and grace periods.
const Day = 24 * time.Hour

// Next computes the next check-in deadline.
//
// Before the first check-in the deadline is createdAt + interval: the owner
// must complete one check-in to enter the grace-protected regime. After
// that, the deadline is lastCheckIn + interval + grace.
func Next(createdAt time.Time, lastCheckIn *time.Time, intervalDays, graceDays int) time.Time {
	if lastCheckIn == nil {
		return createdAt.Add(time.Duration(intervalDays) * Day)
	}
	return lastCheckIn.Add(time.Duration(intervalDays+graceDays) * Day)
}

// ForMessage computes the deadline from a message's own schedule fields.
func ForMessage(m *domain.Message) time.Time {
	return Next(m.CreatedAt, m.LastCheckIn, m.CheckInInterval, m.GracePeriod)
}

// IsOverdue reports whether the message has missed its window.
// Only active messages can be overdue; a paused or terminal message never
// is, regardless of its deadline.
func IsOverdue(now time.Time, m *domain.Message) bool {
	if m.Status != domain.StatusActive {
		return false
	}
	return now.After(m.NextDeadline)
}
