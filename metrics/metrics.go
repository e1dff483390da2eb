// Package metrics exposes the miner's replay and dispute counters through
// go-kit metrics, backed by Prometheus in production and discard in tests.
package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "reputation_miner"
)

// Metrics contains metrics exposed by the miner.
type Metrics struct {
	// Number of decay updates applied.
	DecayUpdates metrics.Counter
	// Number of log-entry-derived updates applied.
	LogUpdates metrics.Counter
	// Number of justification entries captured, sentinel included.
	JustificationCaptures metrics.Counter
	// Number of times the local interim root disagreed with the verifier's
	// committed root at index 0.
	StateDesyncs metrics.Counter

	// Number of distinct reputations in the local state.
	Reputations metrics.Gauge
	// Logical updates in the current cycle.
	TotalUpdates metrics.Gauge

	// Time spent replaying one cycle's log.
	ReplaySeconds metrics.Histogram

	// Transactions sent to the verifier, labelled by kind.
	DisputeResponses metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		DecayUpdates: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "decay_updates_total",
			Help:      "Number of decay updates applied.",
		}, labels).With(labelsAndValues...),
		LogUpdates: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "log_updates_total",
			Help:      "Number of log-entry-derived updates applied.",
		}, labels).With(labelsAndValues...),
		JustificationCaptures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "justification_captures_total",
			Help:      "Number of justification entries captured.",
		}, labels).With(labelsAndValues...),
		StateDesyncs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "state_desyncs_total",
			Help:      "Index-0 disagreements between local and committed state.",
		}, labels).With(labelsAndValues...),
		Reputations: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reputations",
			Help:      "Number of distinct reputations in the local state.",
		}, labels).With(labelsAndValues...),
		TotalUpdates: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "cycle_updates",
			Help:      "Logical updates in the current cycle.",
		}, labels).With(labelsAndValues...),
		ReplaySeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "replay_seconds",
			Help:      "Time spent replaying one cycle's log.",
			Buckets:   stdprometheus.ExponentialBuckets(0.1, 4, 8),
		}, labels).With(labelsAndValues...),
		DisputeResponses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dispute_responses_total",
			Help:      "Transactions sent to the verifier.",
		}, append(labels, "kind")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		DecayUpdates:          discard.NewCounter(),
		LogUpdates:            discard.NewCounter(),
		JustificationCaptures: discard.NewCounter(),
		StateDesyncs:          discard.NewCounter(),
		Reputations:           discard.NewGauge(),
		TotalUpdates:          discard.NewGauge(),
		ReplaySeconds:         discard.NewHistogram(),
		DisputeResponses:      discard.NewCounter(),
	}
}
