package domain

import "time"

// User is the minimal account record the engine needs: enough to verify
// message ownership and to materialize the placeholder account a transfer
// action reassigns to. The full account model (auth, tiers, profile) lives
// outside the engine.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time

	// Placeholder marks an account created by a transfer action for a
	// backup owner who has never signed up. The auth layer forces a claim
	// flow before a placeholder account can act.
	Placeholder bool
}

// CheckInRecord is one append-only entry of check-in history.
type CheckInRecord struct {
	ID         string
	MessageID  string
	UserID     string
	OccurredAt time.Time

	// Method is manual, automatic, or vacation.
	Method   string
	Location string
	Device   string
	IP       string
}

// PlanStatus tracks dissolution plan execution.
type PlanStatus string

const (
	PlanPending  PlanStatus = "pending"
	PlanExecuted PlanStatus = "executed"
	PlanFailed   PlanStatus = "failed"
)

// DissolutionPlan is the secondary trigger alongside the deadline: an
// organizational dissolution signal that drives the same executor path as
// an overdue sweep candidate.
//
// INVARIANT: ExecutedAt is set at most once; execution is a one-way
// transition enforced by a conditional store write.
type DissolutionPlan struct {
	ID        string
	MessageID string

	Action               DissolutionAction
	AlternativeMessageID string
	BackupOwnerEmail     string

	Status     PlanStatus
	ExecutedAt *time.Time
	ExecutedBy string

	CreatedAt time.Time
}

// MessageShare grants a third party read access independent of the deadline
// trigger. The engine never mutates shares; the access gate only consults
// them.
type MessageShare struct {
	ID               string
	MessageID        string
	SharedWithUserID string
	SharedByUserID   string

	SharedAt  time.Time
	ExpiresAt *time.Time

	CanView     bool
	CanDownload bool
	CanComment  bool

	AccessCount  int
	LastAccessed *time.Time
}

// Expired reports whether the share has lapsed.
func (s *MessageShare) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
