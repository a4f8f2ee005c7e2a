// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsApplied counts events whose effects were committed, by chain
	// and abstract kind.
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_events_applied_total",
		Help: "Events applied to the portfolio ledger",
	}, []string{"chain", "kind"})

	// EventsSkipped counts dropped events by reason: unknown_topic,
	// vault_not_found, decode_error, already_processed, no_position.
	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_events_skipped_total",
		Help: "Events dropped before or during reconciliation",
	}, []string{"chain", "reason"})

	// CommitFailures counts rolled-back event transactions.
	CommitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_commit_failures_total",
		Help: "Event transactions rolled back",
	}, []string{"chain"})

	// Reconnects counts transport reconnect cycles per chain.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_transport_reconnects_total",
		Help: "Websocket subscription reconnects",
	}, []string{"chain"})

	// ProcessingLatency tracks per-event processing time including the
	// database commit.
	ProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_event_processing_seconds",
		Help:    "Event processing latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"chain"})

	// VaultTVL mirrors each vault's running TVL after the latest applied
	// event.
	VaultTVL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portfolio_vault_tvl",
		Help: "Running total value locked per vault",
	}, []string{"chain", "vault"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
