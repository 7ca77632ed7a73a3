package engine

import (
	"context"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/gate"
)

// GrantShare records a share giving another user access to the message
// independent of the deadline trigger. Owner only; terminal messages can
// still be shared (the content outlives the schedule).
func (e *Engine) GrantShare(ctx context.Context, sh *domain.MessageShare, grantorID string) error {
	now := e.clock.Now()

	m, err := e.getMessage(ctx, sh.MessageID)
	if err != nil {
		return err
	}
	if m.OwnerID != grantorID {
		return newError(ErrCodeForbidden, sh.MessageID, "user %s does not own this message", grantorID)
	}

	if sh.ID == "" {
		sh.ID = e.idGen.NewID()
	}
	sh.SharedByUserID = grantorID
	sh.SharedAt = now
	if err := e.store.CreateShare(ctx, sh); err != nil {
		return err
	}

	ev := audit.NewEvent(now, audit.KindShareGranted, sh.MessageID)
	ev.Actor = grantorID
	ev.Detail = map[string]string{"shared_with": sh.SharedWithUserID}
	e.audit.Record(ev)
	return nil
}

// AuthorizeShared decides whether userID may exercise perm on the message
// through a share grant. The owner always may; anyone else needs an
// unexpired share carrying the permission.
func (e *Engine) AuthorizeShared(ctx context.Context, messageID, userID string, perm gate.SharePermission) error {
	now := e.clock.Now()

	m, err := e.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.OwnerID == userID {
		return nil
	}

	shares, err := e.store.SharesForUser(ctx, messageID, userID)
	if err != nil {
		return err
	}
	for _, sh := range shares {
		if gate.ShareAllows(sh, perm, now) {
			ev := audit.NewEvent(now, audit.KindAccessGranted, messageID)
			ev.Actor = userID
			ev.Detail = map[string]string{"via": "share", "permission": string(perm)}
			e.audit.Record(ev)
			e.metrics.AccessDecisions.WithLabelValues(string(gate.Granted)).Inc()
			return nil
		}
	}

	ev := audit.NewEvent(now, audit.KindAccessDenied, messageID)
	ev.Actor = userID
	ev.Detail = map[string]string{"via": "share", "permission": string(perm)}
	e.audit.Record(ev)
	e.metrics.AccessDecisions.WithLabelValues(string(gate.Denied)).Inc()
	return newError(ErrCodeForbidden, messageID, "no share grants %s to user %s", perm, userID)
}
