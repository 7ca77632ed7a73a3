package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/cipher"
)

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new age service identity",
		Long: `Generate a fresh age service identity for sealing message content.

The printed key is the secret: store it outside the database, and supply it
to the engine through cipher.key, cipher.key_file, or VIGIL_SERVICE_KEY.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cipher.GenerateServiceKey()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to generate key", err)
			}
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(key)
		},
	}
}
