package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/vigil/internal/domain"
)

var day0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.Add(time.Duration(n) * Day) }

func TestNext_BeforeFirstCheckIn(t *testing.T) {
	// Grace does not apply before the first check-in.
	got := Next(day0, nil, 7, 3)
	assert.Equal(t, day(7), got)
}

func TestNext_AfterCheckIn(t *testing.T) {
	last := day(0)
	got := Next(day0, &last, 7, 3)
	assert.Equal(t, day(10), got)
}

func TestNext_ZeroGrace(t *testing.T) {
	last := day(0)
	got := Next(day0, &last, 7, 0)
	assert.Equal(t, day(7), got)
}

func TestNext_MonotonicAcrossCheckIns(t *testing.T) {
	// Repeated check-ins with non-decreasing timestamps never move the
	// deadline backwards; an identical timestamp is idempotent.
	prev := Next(day0, nil, 7, 3)
	for _, n := range []int{0, 0, 2, 2, 5, 9} {
		last := day(n)
		next := Next(day0, &last, 7, 3)
		assert.False(t, next.Before(prev), "deadline regressed at check-in day %d", n)
		prev = next
	}
}

func TestIsOverdue(t *testing.T) {
	last := day(0)
	msg := &domain.Message{
		Status:          domain.StatusActive,
		CreatedAt:       day0,
		LastCheckIn:     &last,
		CheckInInterval: 7,
		GracePeriod:     3,
	}
	msg.NextDeadline = ForMessage(msg)

	// interval=7, grace=3, last check-in day 0 → deadline day 10.
	assert.False(t, IsOverdue(day(9), msg), "day 9 is inside the window")
	assert.False(t, IsOverdue(day(10), msg), "deadline itself is not overdue")
	assert.True(t, IsOverdue(day(11), msg), "day 11 is past the grace period")
}

func TestIsOverdue_OnlyActive(t *testing.T) {
	last := day(0)
	for _, status := range []domain.MessageStatus{
		domain.StatusDraft, domain.StatusScheduled, domain.StatusPaused,
		domain.StatusReleased, domain.StatusDelivered, domain.StatusExpired,
		domain.StatusCancelled,
	} {
		msg := &domain.Message{
			Status:          status,
			CreatedAt:       day0,
			LastCheckIn:     &last,
			CheckInInterval: 1,
			GracePeriod:     0,
		}
		msg.NextDeadline = ForMessage(msg)
		assert.False(t, IsOverdue(day(30), msg), "status %s must never be overdue", status)
	}
}
