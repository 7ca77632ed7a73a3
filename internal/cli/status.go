package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show a message's lifecycle state",
		Long: `Show a message's status, schedule, and per-recipient delivery state.

Example:
  vigil status --db ./vigil.db 0195f2e1-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// messageStatus is the JSON payload for the status command.
type messageStatus struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Status       string            `json:"status"`
	Action       string            `json:"action"`
	NextDeadline string            `json:"next_deadline"`
	LastCheckIn  string            `json:"last_check_in,omitempty"`
	Interval     int               `json:"check_in_interval_days"`
	Grace        int               `json:"grace_period_days"`
	CipherError  bool              `json:"cipher_error,omitempty"`
	Recipients   []recipientStatus `json:"recipients"`
}

type recipientStatus struct {
	ID       string `json:"id"`
	Contact  string `json:"contact"`
	Method   string `json:"method"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Failure  string `json:"failure,omitempty"`
}

func runStatus(cmd *cobra.Command, opts *StatusOptions, messageID string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := st.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error("NOT_FOUND", fmt.Sprintf("message %s not found", messageID), nil)
		return NewExitError(ExitFailure, "message not found")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read message", err)
	}
	recipients, err := st.ListRecipients(ctx, messageID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read recipients", err)
	}

	status := buildStatus(m, recipients)
	if opts.Format == "json" {
		return formatter.Success(status)
	}
	return formatter.Success(formatStatus(status))
}

func buildStatus(m *domain.Message, recipients []*domain.Recipient) messageStatus {
	s := messageStatus{
		ID:           m.ID,
		Title:        m.Title,
		Status:       string(m.Status),
		Action:       string(m.DissolutionAction),
		NextDeadline: m.NextDeadline.Format(time.RFC3339),
		Interval:     m.CheckInInterval,
		Grace:        m.GracePeriod,
		CipherError:  m.CipherError,
	}
	if m.LastCheckIn != nil {
		s.LastCheckIn = m.LastCheckIn.Format(time.RFC3339)
	}
	for _, r := range recipients {
		s.Recipients = append(s.Recipients, recipientStatus{
			ID:       r.ID,
			Contact:  r.Contact,
			Method:   string(r.Method),
			Status:   string(r.Status),
			Attempts: r.RetryCount,
			Failure:  r.FailureReason,
		})
	}
	return s
}

func formatStatus(s messageStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %q\n", s.ID, s.Title)
	fmt.Fprintf(&b, "  status:        %s", s.Status)
	if s.CipherError {
		b.WriteString(" (cipher error)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  action:        %s\n", s.Action)
	fmt.Fprintf(&b, "  schedule:      every %d days, %d days grace\n", s.Interval, s.Grace)
	fmt.Fprintf(&b, "  next deadline: %s\n", s.NextDeadline)
	if s.LastCheckIn != "" {
		fmt.Fprintf(&b, "  last check-in: %s\n", s.LastCheckIn)
	}
	if len(s.Recipients) == 0 {
		b.WriteString("  recipients:    none")
		return b.String()
	}
	b.WriteString("  recipients:")
	for _, r := range s.Recipients {
		fmt.Fprintf(&b, "\n    %s (%s) %s", r.Contact, r.Method, r.Status)
		if r.Attempts > 0 {
			fmt.Fprintf(&b, " after %d attempts", r.Attempts)
		}
		if r.Failure != "" {
			fmt.Fprintf(&b, ": %s", r.Failure)
		}
	}
	return b.String()
}
