package domain

import "time"

// MessageStatus is the lifecycle state of a message.
//
// State machine:
//
//	draft → scheduled/active → (paused ↔ active) → released → delivered
//	                         → expired
//	                         → cancelled
//
// delivered, expired, and cancelled are terminal: the engine never
// transitions a message out of them. released is the committed intermediate
// between a release/alternative dissolution action and full delivery. The
// sweep only selects active messages, so a message that has left active is
// never released twice.
type MessageStatus string

const (
	StatusDraft     MessageStatus = "draft"
	StatusScheduled MessageStatus = "scheduled"
	StatusActive    MessageStatus = "active"
	StatusPaused    MessageStatus = "paused"
	StatusReleased  MessageStatus = "released"
	StatusDelivered MessageStatus = "delivered"
	StatusExpired   MessageStatus = "expired"
	StatusCancelled MessageStatus = "cancelled"
)

// Terminal reports whether the status permits no further engine-driven
// transitions.
func (s MessageStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusExpired || s == StatusCancelled
}

// DissolutionAction is the disposition executed when a message becomes
// overdue.
type DissolutionAction string

const (
	// ActionRelease decrypts the content and dispatches it to recipients.
	ActionRelease DissolutionAction = "release"

	// ActionDestroy purges the encrypted content without dispatching.
	ActionDestroy DissolutionAction = "destroy"

	// ActionAlternative dispatches the content of AlternativeMessageID
	// instead of the message's own content.
	ActionAlternative DissolutionAction = "alternative"

	// ActionTransfer reassigns the message to the backup owner's account
	// and cancels the original.
	ActionTransfer DissolutionAction = "transfer"

	// ActionExtend pushes the deadline out by ExtendedGracePeriod days.
	ActionExtend DissolutionAction = "extend"

	// ActionNotify dispatches a sealed-content notification; the message
	// stays active.
	ActionNotify DissolutionAction = "notify"
)

// ValidDissolutionActions defines the allowed action values.
var ValidDissolutionActions = map[DissolutionAction]bool{
	ActionRelease:     true,
	ActionDestroy:     true,
	ActionAlternative: true,
	ActionTransfer:    true,
	ActionExtend:      true,
	ActionNotify:      true,
}

// Message is a sealed payload owned by exactly one user.
//
// INVARIANTS:
//   - NextDeadline is always derived through the deadline package from
//     CreatedAt, LastCheckIn, CheckInInterval, and GracePeriod, never from
//     wall clock at read time.
//   - A message reaches a terminal status at most once; the transition out
//     of active is the single commit point for a dissolution action.
//   - Version increments on every write; all mutation goes through the
//     store's compare-and-swap by version.
type Message struct {
	ID      string
	OwnerID string

	// Content. EncryptedContent and EncryptedKey are opaque to the engine;
	// only the cipher package can open them. ContentHash is a keyed BLAKE3
	// digest of the plaintext, checked before any release.
	EncryptedContent []byte
	EncryptedKey     []byte
	ContentHash      string
	ContentSize      int64

	Title       string
	Description string

	// Check-in schedule. Intervals are whole days.
	CheckInInterval int
	GracePeriod     int
	LastCheckIn     *time.Time
	NextDeadline    time.Time
	AutoCheckIn     bool

	Status      MessageStatus
	CreatedAt   time.Time
	ActivatedAt *time.Time
	DeliveredAt *time.Time

	// PausedUntil bounds vacation mode; a check-in at or after this time
	// restores the message to active.
	PausedUntil *time.Time

	// Access control for readers.
	RequiresPassword  bool
	PasswordHash      string
	MaxAccessAttempts int
	AccessAttempts    int

	// Dissolution configuration.
	DissolutionAction    DissolutionAction
	AlternativeMessageID string
	BackupOwnerEmail     string
	ExtendedGracePeriod  int

	// NotifiedAt records the last notify-action dispatch so an overdue
	// notify message is not re-notified every tick. Cleared on check-in.
	NotifiedAt *time.Time

	// CipherError is set when a release failed because the content could
	// not be decrypted; the message is expired rather than silently lost.
	CipherError bool

	// Version is the compare-and-swap counter. Zero means never persisted.
	Version int64
}

// Activatable reports whether the message can be moved from draft/scheduled
// into the active regime.
func (m *Message) Activatable() bool {
	return m.Status == StatusDraft || m.Status == StatusScheduled
}

// CheckInAllowed reports whether the owner may check in on this message.
// Only active and paused messages accept check-ins.
func (m *Message) CheckInAllowed() bool {
	return m.Status == StatusActive || m.Status == StatusPaused
}

// AccessLocked reports whether the access gate lockout has engaged.
func (m *Message) AccessLocked() bool {
	return m.MaxAccessAttempts > 0 && m.AccessAttempts >= m.MaxAccessAttempts
}
