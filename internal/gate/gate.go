// Package gate enforces password-protected access to messages: constant
// time password checks, a persistent attempt lockout, and a bounded
// per-source failure throttle in front of the hash check.
//
// The gate itself is pure with respect to persistence: it inspects a
// message and returns a decision. Incrementing the stored attempt counter
// is the engine's job, through the store's compare-and-swap path.
package gate

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/vigil/internal/domain"
)

// Decision is the outcome of an authorization check.
type Decision string

const (
	// Granted allows access to the content.
	Granted Decision = "granted"

	// Denied means the presented password was wrong. Each denial counts
	// toward the lockout.
	Denied Decision = "denied"

	// Locked means the attempt limit has been reached (or the throttle
	// engaged); every attempt fails with Locked until an owner-initiated
	// reset, even with the correct password.
	Locked Decision = "locked"
)

// Throttle bounds repeated failures per (message, source) before they reach
// the bcrypt check. Implementations must be safe for concurrent use.
//
// The persistent lockout on the message row is the security boundary; the
// throttle only keeps an attacker from burning CPU on bcrypt and from
// racing the counter increment.
type Throttle interface {
	// Blocked reports whether this source is currently throttled.
	Blocked(messageID, source string, now time.Time) bool

	// RecordFailure notes one failed attempt from this source.
	RecordFailure(messageID, source string, now time.Time)
}

// Gate checks passwords against message access policy.
type Gate struct {
	throttle Throttle
}

// New creates a gate. throttle may be nil, disabling pre-hash throttling.
func New(throttle Throttle) *Gate {
	return &Gate{throttle: throttle}
}

// Authorize decides whether the presented password opens the message.
//
// Order matters: the persistent lockout is checked before the password, so
// a locked message returns Locked even for a correct password. A wrong
// password returns Denied; the caller persists the attempt increment and
// re-derives lockout from the updated counter.
func (g *Gate) Authorize(m *domain.Message, password, source string, now time.Time) Decision {
	if !m.RequiresPassword {
		return Granted
	}
	if m.AccessLocked() {
		return Locked
	}
	if g.throttle != nil && g.throttle.Blocked(m.ID, source, now) {
		return Locked
	}

	if bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)) != nil {
		if g.throttle != nil {
			g.throttle.RecordFailure(m.ID, source, now)
		}
		return Denied
	}
	return Granted
}

// ShareAllows reports whether a message share grants the given permission
// at this moment. Shares are consulted for reader access that bypasses the
// password gate; an expired share grants nothing.
func ShareAllows(s *domain.MessageShare, perm SharePermission, now time.Time) bool {
	if s.Expired(now) {
		return false
	}
	switch perm {
	case PermView:
		return s.CanView
	case PermDownload:
		return s.CanDownload
	case PermComment:
		return s.CanComment
	default:
		return false
	}
}

// SharePermission names the capabilities a MessageShare can carry.
type SharePermission string

const (
	PermView     SharePermission = "view"
	PermDownload SharePermission = "download"
	PermComment  SharePermission = "comment"
)

// HashPassword produces the bcrypt hash stored on password-protected
// messages. Used at message creation/update time.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
