package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vigil/internal/domain"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func protectedMessage(t *testing.T, password string) *domain.Message {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return &domain.Message{
		ID:                "msg-1",
		RequiresPassword:  true,
		PasswordHash:      hash,
		MaxAccessAttempts: 3,
	}
}

func TestAuthorize_NoPasswordRequired(t *testing.T) {
	g := New(nil)
	m := &domain.Message{ID: "msg-1"}
	assert.Equal(t, Granted, g.Authorize(m, "anything", "1.2.3.4", now))
}

func TestAuthorize_CorrectPassword(t *testing.T) {
	g := New(nil)
	m := protectedMessage(t, "hunter2")
	assert.Equal(t, Granted, g.Authorize(m, "hunter2", "1.2.3.4", now))
}

func TestAuthorize_WrongPassword(t *testing.T) {
	g := New(nil)
	m := protectedMessage(t, "hunter2")
	assert.Equal(t, Denied, g.Authorize(m, "letmein", "1.2.3.4", now))
}

func TestAuthorize_LockoutBeatsCorrectPassword(t *testing.T) {
	g := New(nil)
	m := protectedMessage(t, "hunter2")
	m.AccessAttempts = 3 // at the limit

	// Even the correct password is refused until an owner reset.
	assert.Equal(t, Locked, g.Authorize(m, "hunter2", "1.2.3.4", now))
	assert.Equal(t, Locked, g.Authorize(m, "letmein", "1.2.3.4", now))

	m.AccessAttempts = 0 // owner reset
	assert.Equal(t, Granted, g.Authorize(m, "hunter2", "1.2.3.4", now))
}

func TestAuthorize_ThrottleEngages(t *testing.T) {
	th, err := NewLRUThrottle(16, 2, time.Minute)
	require.NoError(t, err)
	g := New(th)
	m := protectedMessage(t, "hunter2")
	m.MaxAccessAttempts = 100 // keep the persistent lockout out of the way

	assert.Equal(t, Denied, g.Authorize(m, "a", "1.2.3.4", now))
	assert.Equal(t, Denied, g.Authorize(m, "b", "1.2.3.4", now))

	// Third attempt from the same source is throttled before bcrypt,
	// correct password or not.
	assert.Equal(t, Locked, g.Authorize(m, "hunter2", "1.2.3.4", now))

	// A different source is unaffected.
	assert.Equal(t, Granted, g.Authorize(m, "hunter2", "5.6.7.8", now))

	// The window lapsing clears the throttle.
	later := now.Add(2 * time.Minute)
	assert.Equal(t, Granted, g.Authorize(m, "hunter2", "1.2.3.4", later))
}

func TestShareAllows(t *testing.T) {
	expired := now.Add(-time.Hour)
	tests := []struct {
		name  string
		share domain.MessageShare
		perm  SharePermission
		want  bool
	}{
		{"view granted", domain.MessageShare{CanView: true}, PermView, true},
		{"download not granted", domain.MessageShare{CanView: true}, PermDownload, false},
		{"comment granted", domain.MessageShare{CanComment: true}, PermComment, true},
		{"expired grants nothing", domain.MessageShare{CanView: true, ExpiresAt: &expired}, PermView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShareAllows(&tt.share, tt.perm, now))
		})
	}
}

func TestLRUThrottle_CapacityBounded(t *testing.T) {
	th, err := NewLRUThrottle(2, 1, time.Minute)
	require.NoError(t, err)

	th.RecordFailure("m1", "s1", now)
	th.RecordFailure("m2", "s2", now)
	th.RecordFailure("m3", "s3", now) // evicts m1/s1

	assert.False(t, th.Blocked("m1", "s1", now), "oldest entry should be evicted")
	assert.True(t, th.Blocked("m3", "s3", now))
}
