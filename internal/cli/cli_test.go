package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/engine"
	"github.com/roach88/vigil/internal/store"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "vigil", cmd.Use)
	assert.Contains(t, cmd.Long, "checking in")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "tick", "checkin", "cancel", "status", "list", "keygen"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestRejectsInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"keygen", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))

	wrapped := WrapExitError(ExitFailure, "outer", assert.AnError)
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
}

func TestFormatterJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]int{"released": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	buf.Reset()
	require.NoError(t, f.Error("LOCKED", "access locked", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "LOCKED", resp.Error.Code)
}

func TestFormatStatusGolden(t *testing.T) {
	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &domain.Message{
		ID:                "0195f2e1-0001",
		Title:             "for my family",
		Status:            domain.StatusActive,
		DissolutionAction: domain.ActionRelease,
		CheckInInterval:   7,
		GracePeriod:       3,
		LastCheckIn:       &last,
		NextDeadline:      time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC),
	}
	recipients := []*domain.Recipient{
		{
			ID:      "r1",
			Contact: "sister@example.com",
			Method:  domain.MethodEmail,
			Status:  domain.DeliveryDelivered,
		},
		{
			ID:            "r2",
			Contact:       "https://hooks.example.com/x",
			Method:        domain.MethodWebhook,
			Status:        domain.DeliveryFailed,
			RetryCount:    2,
			FailureReason: "connection refused",
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "status", []byte(formatStatus(buildStatus(m, recipients))))
}

func TestFormatReportGolden(t *testing.T) {
	report := &engine.TickReport{
		Scanned:   4,
		Released:  2,
		Delivered: 1,
		Failed:    1,
		Errors:    []string{"CIPHER_FAILURE: content cannot be opened (message=m9)"},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	now := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	g.Assert(t, "tick", []byte(formatReport(now, report)))
}

// seedMessage creates a database with one active message for the command
// round-trip tests.
func seedMessage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateMessage(context.Background(), &domain.Message{
		ID:                "m1",
		OwnerID:           "owner-1",
		EncryptedContent:  []byte("sealed"),
		EncryptedKey:      []byte("wrapped"),
		ContentHash:       "h",
		Title:             "t",
		CheckInInterval:   7,
		GracePeriod:       3,
		Status:            domain.StatusActive,
		CreatedAt:         created,
		NextDeadline:      created.Add(7 * 24 * time.Hour),
		DissolutionAction: domain.ActionRelease,
	}))
	return path
}

func TestCheckInCommand(t *testing.T) {
	db := seedMessage(t)

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"checkin", "--db", db, "--user", "owner-1", "m1"})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "checked in: next deadline")

	// The wrong user is rejected with exit code 1.
	cmd = NewRootCommand()
	cmd.SetArgs([]string{"checkin", "--db", db, "--user", "intruder", "m1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStatusCommandJSON(t *testing.T) {
	db := seedMessage(t)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"status", "--db", db, "--format", "json", "m1"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   messageStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "m1", resp.Data.ID)
	assert.Equal(t, "active", resp.Data.Status)
}

func TestCancelCommand(t *testing.T) {
	db := seedMessage(t)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"cancel", "--db", db, "--user", "owner-1", "m1"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "cancelled m1")

	// Cancelling twice fails: the terminal status is final.
	cmd = NewRootCommand()
	cmd.SetArgs([]string{"cancel", "--db", db, "--user", "owner-1", "m1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestListCommand(t *testing.T) {
	db := seedMessage(t)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"list", "--db", db, "--user", "owner-1"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1 messages for owner-1")
	assert.Contains(t, out.String(), "active/release")

	// An owner with nothing gets an empty listing, not an error.
	out.Reset()
	cmd = NewRootCommand()
	cmd.SetArgs([]string{"list", "--db", db, "--user", "nobody"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "no messages for nobody")
}

func TestKeygenCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"keygen"})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "AGE-SECRET-KEY-1")
}
