package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/domain"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's messages",
		Long: `List every message owned by a user with its status and next deadline.

Example:
  vigil list --db ./vigil.db --user owner-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.User, "user", "", "owner user id (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// messageSummary is one row of list output.
type messageSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Action       string `json:"action"`
	NextDeadline string `json:"next_deadline,omitempty"`
	Pending      int    `json:"pending_deliveries,omitempty"`
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
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
	messages, err := st.ListMessagesByOwner(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list messages", err)
	}

	summaries := make([]messageSummary, 0, len(messages))
	for _, m := range messages {
		s := messageSummary{
			ID:     m.ID,
			Title:  m.Title,
			Status: string(m.Status),
			Action: string(m.DissolutionAction),
		}
		if !m.Status.Terminal() {
			s.NextDeadline = m.NextDeadline.Format(time.RFC3339)
		}
		if m.Status == domain.StatusReleased {
			pending, err := st.CountNonTerminalRecipients(ctx, m.ID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count deliveries", err)
			}
			s.Pending = pending
		}
		summaries = append(summaries, s)
	}

	if opts.Format == "json" {
		return formatter.Success(summaries)
	}
	return formatter.Success(formatList(opts.User, summaries))
}

func formatList(user string, summaries []messageSummary) string {
	if len(summaries) == 0 {
		return fmt.Sprintf("no messages for %s", user)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d messages for %s", len(summaries), user)
	for _, s := range summaries {
		fmt.Fprintf(&b, "\n  %s  %q  %s/%s", s.ID, s.Title, s.Status, s.Action)
		if s.NextDeadline != "" {
			fmt.Fprintf(&b, "  deadline %s", s.NextDeadline)
		}
		if s.Pending > 0 {
			fmt.Fprintf(&b, "  (%d deliveries pending)", s.Pending)
		}
	}
	return b.String()
}
