package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. All series carry
// the vigil_engine_ prefix.
type Metrics struct {
	TickDuration prometheus.Histogram
	Ticks        prometheus.Counter
	Scanned      prometheus.Counter
	CheckIns     prometheus.Counter

	// Released counts deadline actions executed, labeled by action
	// (release, destroy, alternative, transfer, extend, notify).
	Released *prometheus.CounterVec

	// Deliveries counts delivery attempt outcomes, labeled by result
	// (delivered, retried, exhausted).
	Deliveries *prometheus.CounterVec

	// AccessDecisions counts gate outcomes, labeled by decision
	// (granted, denied, locked).
	AccessDecisions *prometheus.CounterVec
}

// NewMetrics registers the engine instruments with reg. Passing a fresh
// Registry per engine keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_engine_tick_duration_seconds",
			Help:    "Wall time per engine tick.",
			Buckets: prometheus.DefBuckets,
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_engine_ticks_total",
			Help: "Completed engine ticks.",
		}),
		Scanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_engine_scanned_total",
			Help: "Messages examined by the deadline sweep.",
		}),
		CheckIns: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_engine_checkins_total",
			Help: "Successful owner check-ins.",
		}),
		Released: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_engine_released_total",
			Help: "Deadline actions executed, by action.",
		}, []string{"action"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_engine_deliveries_total",
			Help: "Delivery attempt outcomes, by result.",
		}, []string{"result"}),
		AccessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_engine_access_decisions_total",
			Help: "Recipient access gate outcomes, by decision.",
		}, []string{"decision"}),
	}
}
