// Package telemetry exposes Prometheus metrics for the membership
// protocol, the quorum coordinator and stabilization.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	GossipRounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "gossip_rounds_total",
			Help:      "Total number of gossip rounds executed.",
		},
	)

	Messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "messages_total",
			Help:      "Protocol messages by protocol, type and direction.",
		},
		[]string{"protocol", "type", "direction"},
	)

	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "decode_errors_total",
			Help:      "Inbound messages dropped because they could not be decoded.",
		},
		[]string{"protocol"},
	)

	Peers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ringkv",
			Name:      "peers",
			Help:      "Peers in the local membership table by status.",
		},
		[]string{"status"},
	)

	QuorumOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "quorum_outcomes_total",
			Help:      "Resolved coordinator requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	QuorumLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ringkv",
			Name:      "quorum_latency_ticks",
			Help:      "Ticks between issuing a request and resolving it.",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		},
		[]string{"op"},
	)

	StabilizationPushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "stabilization_pushes_total",
			Help:      "Keys pushed to newly responsible replicas.",
		},
	)

	TombstoneDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ringkv",
			Name:      "tombstone_deletes_total",
			Help:      "Local keys removed after their ownership moved away.",
		},
	)
)

func init() {
	Registry.MustRegister(
		GossipRounds, Messages, DecodeErrors, Peers,
		QuorumOutcomes, QuorumLatency, StabilizationPushes, TombstoneDeletes,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
