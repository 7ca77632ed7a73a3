package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/engine"
	"github.com/roach88/vigil/internal/transport"
)

// CancelOptions holds flags for the cancel command.
type CancelOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CancelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cancel <message-id>",
		Short: "Permanently retire a message",
		Long: `Cancel a message. Cancelled messages never release; cancelling a
released message stops any deliveries that have not gone out yet.

Example:
  vigil cancel --db ./vigil.db --user owner-1 0195f2e1-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runCancel(cmd *cobra.Command, opts *CancelOptions, messageID string) error {
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

	eng := engine.New(st, nil, transport.NewRouter(nil))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := eng.CancelMessage(ctx, messageID, opts.User)
	if err != nil {
		return engineCommandError(formatter, err)
	}

	return formatter.Success(fmt.Sprintf("cancelled %s", m.ID))
}
