// Package metrics holds the reconciler's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shield_reconciler"

// Poller
var (
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks whose logs were fully dispatched",
		},
	)

	CheckpointBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_block",
			Help:      "Last fully processed block number",
		},
	)

	ChainHeadBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_head_block",
			Help:      "Latest chain head seen by the poller",
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll ticks aborted by an error",
		},
	)
)

// Decoder
var (
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_decoded_total",
			Help:      "Decoded contract events",
		},
		[]string{"event"},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Logs with a known topic that failed to decode",
		},
		[]string{"event"},
	)
)

// Intents and transactions
var (
	IntentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_transitions_total",
			Help:      "Intent status changes",
		},
		[]string{"kind", "status"},
	)

	TxSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submissions_total",
			Help:      "Hot wallet transaction submissions",
		},
		[]string{"label", "status"}, // status: success/failed/timeout/error
	)

	TxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_duration_seconds",
			Help:      "Time from nonce allocation to receipt",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"label"},
	)
)

// NAV
var (
	NAVRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nav_runs_total",
			Help:      "NAV calculator runs",
		},
		[]string{"result"}, // submitted, submit_failed, aborted
	)

	LastNAVPerToken = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nav_per_token",
			Help:      "Last computed NAV per token, as a float for dashboards only",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox rows relayed to Kafka",
		},
		[]string{"status"},
	)
)
