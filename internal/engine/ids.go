package engine

import (
	"sync"

	"github.com/google/uuid"
)

// UUIDGenerator mints time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, making ids
// sortable by creation time, which helps when reading check-in history and
// audit trails straight out of the database.
//
// Thread-safety: UUIDGenerator is stateless and safe for concurrent use.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedIDs returns predetermined ids for testing.
//
// Thread-safety: FixedIDs is safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order and panics
// when exhausted.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewID implements IDGenerator.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedIDs: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// transferCloneID derives the id of the message a transfer action creates,
// deterministically from the original. Re-running a half-finished transfer
// after a crash regenerates the same id, and the idempotent insert makes
// the second create a no-op instead of a duplicate clone.
func transferCloneID(originalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(originalID+"/transfer")).String()
}
