package engine

import "time"

// Clock supplies the current time to request-path operations (check-in,
// authorize, cancel). Tick receives its now explicitly from the scheduler;
// the engine itself never reads the wall clock, which keeps every decision
// deterministic under test.
//
// Implemented by SystemClock (production) and testutil.ManualClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator mints entity ids. Implemented by UUIDGenerator (production)
// and FixedIDs (tests), so tests can assert exact rows.
type IDGenerator interface {
	NewID() string
}
