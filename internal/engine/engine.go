package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/vigil/internal/audit"
	"github.com/roach88/vigil/internal/cipher"
	"github.com/roach88/vigil/internal/gate"
	"github.com/roach88/vigil/internal/store"
	"github.com/roach88/vigil/internal/transport"
)

// Defaults applied when no option overrides them.
const (
	defaultBatchSize      = 100
	defaultWorkers        = 4
	defaultTickBudget     = 30 * time.Second
	defaultAttemptTimeout = 5 * time.Second
	defaultBackoffBase    = time.Minute
	defaultBackoffCap     = time.Hour
	defaultCASRetries     = 5
)

// Engine owns the deadline lifecycle of messages: check-ins, the overdue
// sweep, dissolution actions, and delivery dispatch.
//
// CONCURRENCY MODEL: exactly one Tick runs at a time (the scheduler's
// responsibility); request-path operations (CheckIn, Authorize, Cancel) run
// concurrently with it and with each other. All message writes go through
// the store's compare-and-swap, so a sweep and a check-in racing on the
// same message resolve to one winner and one clean retry.
type Engine struct {
	store     *store.Store
	cipher    cipher.ContentCipher
	transport transport.Transport
	gate      *gate.Gate
	audit     audit.Sink
	clock     Clock
	idGen     IDGenerator
	log       *slog.Logger
	metrics   *Metrics

	batchSize      int
	workers        int
	tickBudget     time.Duration
	attemptTimeout time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	casRetries     int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects the request-path time source.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithGate installs the access gate used by Authorize.
func WithGate(g *gate.Gate) Option { return func(e *Engine) { e.gate = g } }

// WithAuditSink installs the audit sink.
func WithAuditSink(s audit.Sink) Option { return func(e *Engine) { e.audit = s } }

// WithIDGenerator injects the id source.
func WithIDGenerator(g IDGenerator) Option { return func(e *Engine) { e.idGen = g } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithBatchSize bounds how many overdue messages one sweep page loads.
func WithBatchSize(n int) Option { return func(e *Engine) { e.batchSize = n } }

// WithWorkers sets the delivery worker pool size.
func WithWorkers(n int) Option { return func(e *Engine) { e.workers = n } }

// WithTickBudget bounds the wall time one Tick may consume.
func WithTickBudget(d time.Duration) Option { return func(e *Engine) { e.tickBudget = d } }

// WithAttemptTimeout bounds a single delivery attempt.
func WithAttemptTimeout(d time.Duration) Option { return func(e *Engine) { e.attemptTimeout = d } }

// WithBackoff sets the delivery retry backoff base and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffCap = cap
	}
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = NewMetrics(reg) }
}

// New assembles an engine over its collaborators. st, c, and tr are
// required; everything else has a production default.
func New(st *store.Store, c cipher.ContentCipher, tr transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		cipher:    c,
		transport: tr,
		gate:      gate.New(nil),
		audit:     audit.SlogSink{},
		clock:     SystemClock{},
		idGen:     UUIDGenerator{},
		log:       slog.Default(),

		batchSize:      defaultBatchSize,
		workers:        defaultWorkers,
		tickBudget:     defaultTickBudget,
		attemptTimeout: defaultAttemptTimeout,
		backoffBase:    defaultBackoffBase,
		backoffCap:     defaultBackoffCap,
		casRetries:     defaultCASRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e
}

// TickReport summarizes one engine tick.
type TickReport struct {
	mu sync.Mutex

	// Scanned counts overdue candidates examined by the sweep.
	Scanned int

	// Released counts messages whose dissolution action committed this tick.
	Released int

	// Delivered counts successful recipient deliveries.
	Delivered int

	// Failed counts failed delivery attempts.
	Failed int

	// Errors collects non-fatal problems encountered during the tick.
	Errors []string
}

func (r *TickReport) addScanned(n int) {
	r.mu.Lock()
	r.Scanned += n
	r.mu.Unlock()
}

func (r *TickReport) addReleased(n int) {
	r.mu.Lock()
	r.Released += n
	r.mu.Unlock()
}

func (r *TickReport) addDelivered(n int) {
	r.mu.Lock()
	r.Delivered += n
	r.mu.Unlock()
}

func (r *TickReport) addFailed(n int) {
	r.mu.Lock()
	r.Failed += n
	r.mu.Unlock()
}

func (r *TickReport) addError(err error) {
	r.mu.Lock()
	r.Errors = append(r.Errors, err.Error())
	r.mu.Unlock()
}

// Tick runs one pass of the engine pipeline at the given logical time:
// sweep overdue messages and execute their dissolution actions, dispatch
// due recipient deliveries, and finalize released messages whose
// recipients have all reached a terminal state.
//
// now is supplied by the caller, never read from the wall clock, so a test
// (or a backfill job) can drive the engine through any schedule. Tick is
// idempotent: re-running it at the same instant changes nothing, because
// every step either commits through compare-and-swap or is guarded by a
// conditional write.
func (e *Engine) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.tickBudget)
	defer cancel()

	report := &TickReport{}

	if err := e.sweep(ctx, now, report); err != nil {
		report.addError(err)
	}
	if err := e.dispatch(ctx, now, report); err != nil {
		report.addError(err)
	}
	if err := e.promoteReleased(ctx, now, report); err != nil {
		report.addError(err)
	}

	e.metrics.Ticks.Inc()
	e.metrics.TickDuration.Observe(time.Since(started).Seconds())
	e.log.InfoContext(ctx, "tick complete",
		"now", now,
		"scanned", report.Scanned,
		"released", report.Released,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"errors", len(report.Errors),
	)
	return report, ctx.Err()
}
