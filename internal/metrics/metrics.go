// Package metrics defines the Prometheus collectors exported by the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sglre6355/gatebot/internal/cache"
)

const namespace = "gatebot"

// Interaction outcomes.
const (
	OutcomeHandled  = "handled"
	OutcomeDenied   = "denied"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

// Metrics holds all collectors. Each instance registers against its own
// Registerer so tests can use an isolated registry.
type Metrics struct {
	registerer prometheus.Registerer

	// Interactions counts routed interactions by definition kind and outcome.
	Interactions *prometheus.CounterVec
	// GateDenials counts refusals by the gate that issued them.
	GateDenials *prometheus.CounterVec
	// HandlerDuration records handler latency in seconds by definition kind.
	HandlerDuration *prometheus.HistogramVec
	// SyncMutations counts remote command mutations by operation and result.
	SyncMutations *prometheus.CounterVec
	// FaultReports counts classified faults by severity and whether they were forwarded.
	FaultReports *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registerer: reg,

		Interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Total number of routed interactions by kind and outcome.",
		}, []string{"kind", "outcome"}),

		GateDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_denials_total",
			Help:      "Total number of interactions refused, by gate.",
		}, []string{"gate"}),

		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),

		SyncMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_sync_mutations_total",
			Help:      "Total number of remote command mutations by operation and result.",
		}, []string{"operation", "result"}),

		FaultReports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fault_reports_total",
			Help:      "Total number of classified faults by severity and forwarding decision.",
		}, []string{"severity", "forwarded"}),
	}
}

// NewIsolated creates collectors registered with a private registry.
func NewIsolated() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveCache exports the counters of a cache under the given name.
func (m *Metrics) ObserveCache(name string, stats func() cache.Stats) {
	factory := promauto.With(m.registerer)
	labels := prometheus.Labels{"cache": name}

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_hits_total",
		Help:        "Total number of cache hits.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Hits) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_misses_total",
		Help:        "Total number of cache misses.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Misses) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_evictions_total",
		Help:        "Total number of capacity evictions.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Evictions) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "cache_expirations_total",
		Help:        "Total number of expired entries removed.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Expirations) })
}

// ObserveGauge exports a value read on every scrape.
func (m *Metrics) ObserveGauge(name, help string, value func() float64) {
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, value)
}
