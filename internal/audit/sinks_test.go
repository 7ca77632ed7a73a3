package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/store"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStoreSinkPersistsThroughStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.CreateMessage(ctx, &domain.Message{
		ID:                "m1",
		OwnerID:           "owner-1",
		Status:            domain.StatusActive,
		CheckInInterval:   7,
		GracePeriod:       3,
		CreatedAt:         base,
		NextDeadline:      base.Add(7 * 24 * time.Hour),
		DissolutionAction: domain.ActionRelease,
	}))

	sink := audit.NewStoreSink(st, 16)
	ev := audit.NewEvent(base, audit.KindCheckIn, "m1")
	ev.Actor = "owner-1"
	sink.Record(ev)
	sink.Close() // drains the buffer

	got, err := st.AuditEventsForMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.KindCheckIn, got[0].Kind)
	assert.Zero(t, sink.Dropped())
}

func TestMultiFansOut(t *testing.T) {
	a, b := &audit.Memory{}, &audit.Memory{}
	multi := audit.Multi{a, b}

	multi.Record(audit.NewEvent(base, audit.KindStatusTransition, "m1"))

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestEventIDsSortByCreation(t *testing.T) {
	first := audit.NewEvent(base, audit.KindCheckIn, "m1")
	second := audit.NewEvent(base, audit.KindCheckIn, "m1")
	assert.Less(t, first.ID, second.ID)
}
