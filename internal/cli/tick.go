package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/cipher"
	"github.com/roach88/vigil/internal/config"
	"github.com/roach88/vigil/internal/engine"
)

// TickOptions holds flags for the tick command.
type TickOptions struct {
	*RootOptions
	Config string
	Now    string
}

// NewTickCommand creates the tick command: one sweep-and-dispatch pass,
// useful for cron-style deployments and for catching up a missed window.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TickOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one engine pass",
		Long: `Run a single engine pass: sweep overdue messages, execute their
dissolution actions, and dispatch due deliveries.

By default the pass runs at the current time. --now replays the pass at a
specific instant (RFC 3339), which is how a missed cron window is caught up.

Example:
  vigil tick --config vigil.yaml
  vigil tick --config vigil.yaml --now 2025-03-11T00:00:00Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.Now, "now", "", "run the pass at this RFC 3339 instant instead of now")

	return cmd
}

func runTick(cmd *cobra.Command, opts *TickOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupLogging(opts.Verbose, "text")
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	now := time.Now().UTC()
	if opts.Now != "" {
		parsed, err := time.Parse(time.RFC3339, opts.Now)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --now", err)
		}
		now = parsed.UTC()
	}

	serviceKey, err := cfg.Cipher.ServiceKey()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve service key", err)
	}
	contentCipher, err := cipher.NewAgeCipher(serviceKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid service key", err)
	}

	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	router, err := buildTransports(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(st, contentCipher, router,
		engine.WithBatchSize(cfg.Engine.BatchSize),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithTickBudget(cfg.Engine.TickBudget.Std()),
		engine.WithAttemptTimeout(cfg.Engine.AttemptTimeout.Std()),
		engine.WithBackoff(cfg.Engine.BackoffBase.Std(), cfg.Engine.BackoffCap.Std()),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := eng.Tick(ctx, now)
	if err != nil {
		return WrapExitError(ExitFailure, "tick did not complete", err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(tickResult{
			Now:       now.Format(time.RFC3339),
			Scanned:   report.Scanned,
			Released:  report.Released,
			Delivered: report.Delivered,
			Failed:    report.Failed,
			Errors:    report.Errors,
		}); err != nil {
			return err
		}
	} else if err := formatter.Success(formatReport(now, report)); err != nil {
		return err
	}

	if len(report.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d errors during tick", len(report.Errors)))
	}
	return nil
}

// tickResult is the JSON payload for a completed pass.
type tickResult struct {
	Now       string   `json:"now"`
	Scanned   int      `json:"scanned"`
	Released  int      `json:"released"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// formatReport renders a tick report for text output.
func formatReport(now time.Time, r *engine.TickReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick at %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "  scanned:   %d\n", r.Scanned)
	fmt.Fprintf(&b, "  released:  %d\n", r.Released)
	fmt.Fprintf(&b, "  delivered: %d\n", r.Delivered)
	fmt.Fprintf(&b, "  failed:    %d", r.Failed)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}
