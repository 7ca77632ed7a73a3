package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/cipher"
	"github.com/roach88/vigil/internal/config"
	"github.com/roach88/vigil/internal/domain"
	"github.com/roach88/vigil/internal/engine"
	"github.com/roach88/vigil/internal/gate"
	"github.com/roach88/vigil/internal/transport"
)

// throttleCacheSize bounds the in-process throttle when Redis is not
// configured.
const throttleCacheSize = 4096

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine tick loop",
		Long: `Run the vigil engine: sweep check-in deadlines on a fixed interval,
execute dissolution actions, and dispatch deliveries.

Example:
  vigil serve --config /etc/vigil/vigil.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupServeLogging(cfg.Log, opts.Verbose)

	serviceKey, err := cfg.Cipher.ServiceKey()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve service key", err)
	}
	contentCipher, err := cipher.NewAgeCipher(serviceKey)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid service key", err)
	}

	slog.Info("opening database", "path", cfg.Store.Path)
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

	accessGate, err := buildGate(cfg)
	if err != nil {
		return err
	}

	storeSink := audit.NewStoreSink(st, 1024)
	defer storeSink.Close()
	sink := audit.Multi{audit.SlogSink{}, storeSink}

	reg := prometheus.NewRegistry()
	eng := engine.New(st, contentCipher, router,
		engine.WithGate(accessGate),
		engine.WithAuditSink(sink),
		engine.WithRegisterer(reg),
		engine.WithBatchSize(cfg.Engine.BatchSize),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithTickBudget(cfg.Engine.TickBudget.Std()),
		engine.WithAttemptTimeout(cfg.Engine.AttemptTimeout.Std()),
		engine.WithBackoff(cfg.Engine.BackoffBase.Std(), cfg.Engine.BackoffCap.Std()),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	slog.Info("engine running", "tick_interval", cfg.Engine.TickInterval.Std())
	ticker := time.NewTicker(cfg.Engine.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine stopped")
			return nil
		case <-ticker.C:
			report, err := eng.Tick(ctx, time.Now().UTC())
			if err != nil && ctx.Err() == nil {
				slog.Error("tick failed", "error", err)
			}
			if report != nil && len(report.Errors) > 0 {
				for _, msg := range report.Errors {
					slog.Warn("tick error", "error", msg)
				}
			}
		}
	}
}

// buildTransports wires the delivery methods the config enables. Email is
// skipped when no SMTP host is set; webhooks are always available.
func buildTransports(cfg config.Config) (*transport.Router, error) {
	bindings := map[domain.DeliveryMethod]transport.Transport{
		domain.MethodWebhook: transport.NewWebhookSender(cfg.Engine.AttemptTimeout.Std()),
	}
	if cfg.SMTP.Host != "" {
		if cfg.SMTP.From == "" {
			return nil, NewExitError(ExitCommandError, "smtp.from is required when smtp.host is set")
		}
		bindings[domain.MethodEmail] = transport.NewEmailSender(
			cfg.SMTP.Host, strconv.Itoa(cfg.SMTP.Port),
			cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From,
		)
	}
	return transport.NewRouter(bindings), nil
}

// buildGate assembles the access gate: a Redis throttle when configured
// (shared across replicas), the in-process LRU throttle otherwise.
func buildGate(cfg config.Config) (*gate.Gate, error) {
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return gate.New(gate.NewRedisThrottle(rdb, cfg.Gate.Threshold, cfg.Gate.Window.Std())), nil
	}
	throttle, err := gate.NewLRUThrottle(throttleCacheSize, cfg.Gate.Threshold, cfg.Gate.Window.Std())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build throttle", err)
	}
	return gate.New(throttle), nil
}

func setupServeLogging(cfg config.LogConfig, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
