package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/engine"
	"github.com/roach88/vigil/internal/transport"
)

// CheckInOptions holds flags for the checkin command.
type CheckInOptions struct {
	*RootOptions
	Database string
	User     string
	Device   string
}

// NewCheckInCommand creates the checkin command.
func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckInOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkin <message-id>",
		Short: "Record an owner check-in",
		Long: `Record a check-in on a message: the deadline moves out by the
check-in interval plus the grace period.

Example:
  vigil checkin --db ./vigil.db --user owner-1 0195f2e1-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&opts.Device, "device", "", "device note for the history record")

	return cmd
}

func runCheckIn(cmd *cobra.Command, opts *CheckInOptions, messageID string) error {
	setupLogging(opts.Verbose, "text")
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

	// Check-ins never open sealed content or dispatch anything, so the
	// engine runs without a cipher or transports here.
	eng := engine.New(st, nil, transport.NewRouter(nil))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	hostname, _ := os.Hostname()
	m, err := eng.CheckIn(ctx, messageID, opts.User, engine.CheckInMeta{
		Method: "manual",
		Device: opts.Device,
		IP:     hostname,
	})
	if err != nil {
		return engineCommandError(formatter, err)
	}

	return formatter.Success(fmt.Sprintf("checked in: next deadline %s", m.NextDeadline.Format("2006-01-02 15:04 MST")))
}

// engineCommandError renders a typed engine error and maps it to an exit
// code: user-rejected operations exit 1, everything else exits 2.
func engineCommandError(formatter *OutputFormatter, err error) error {
	code := engine.CodeOf(err)
	if code == "" {
		return WrapExitError(ExitCommandError, "operation failed", err)
	}
	_ = formatter.Error(string(code), err.Error(), nil)
	switch code {
	case engine.ErrCodeForbidden, engine.ErrCodeLocked, engine.ErrCodeInvalidState, engine.ErrCodeNotFound:
		return NewExitError(ExitFailure, err.Error())
	default:
		return NewExitError(ExitCommandError, err.Error())
	}
}
