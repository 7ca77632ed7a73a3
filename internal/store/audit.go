package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/vigil/internal/audit"
)

// AppendAuditEvent implements audit.EventWriter. The table is append-only;
// duplicate ids (a retried write) are silently ignored.
func (s *Store) AppendAuditEvent(ctx context.Context, ev audit.Event) error {
	detail := "{}"
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("append audit event %s: %w", ev.ID, err)
		}
		detail = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, kind, message_id, recipient_id, actor, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, toNS(ev.Time), string(ev.Kind), ev.MessageID, ev.RecipientID, ev.Actor, detail)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", ev.ID, err)
	}
	return nil
}

// AuditEventsForMessage returns a message's audit trail oldest first.
func (s *Store) AuditEventsForMessage(ctx context.Context, messageID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, kind, message_id, recipient_id, actor, detail
		FROM audit_events
		WHERE message_id = ?
		ORDER BY occurred_at, id
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("audit events for %s: %w", messageID, err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			ev         audit.Event
			kind       string
			occurredAt int64
			detail     string
		)
		if err := rows.Scan(&ev.ID, &occurredAt, &kind, &ev.MessageID,
			&ev.RecipientID, &ev.Actor, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Kind = audit.Kind(kind)
		ev.Time = fromNS(occurredAt)
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
