package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Daemon gateway metrics
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionchat_daemon_rpc_requests_total",
			Help: "Total RPC calls to the chat daemon",
		},
		[]string{"cmd", "outcome"}, // outcome: ok, error, rejected, timeout, breaker_open
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onionchat_daemon_rpc_duration_seconds",
			Help:    "Chat daemon RPC latency",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"cmd"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onionchat_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionchat_push_events_total",
			Help: "Push channel events by outcome",
		},
		[]string{"event", "outcome"}, // outcome: dispatched, malformed, ignored
	)

	PushReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onionchat_push_reconnects_total",
			Help: "Push channel reconnect attempts",
		},
	)

	// Chat session metrics
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionchat_timeline_reloads_total",
			Help: "Timeline reloads by trigger and outcome",
		},
		[]string{"trigger", "outcome"}, // outcome: applied, error, stale
	)

	ReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onionchat_timeline_reload_duration_seconds",
			Help:    "Time from issuing a reload to applying its result",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionchat_sends_total",
			Help: "Locally authored sends by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: text, attachment; outcome: sent, failed, refused
	)

	TimelineMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onionchat_timeline_messages",
			Help: "Messages in the active timeline",
		},
	)

	HistoryBatch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onionchat_history_batch",
			Help: "Current history batch number",
		},
	)

	OutboxCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onionchat_outbox_cleaned_total",
			Help: "Expired outbox entries removed",
		},
	)

	// Local view API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionchat_http_requests_total",
			Help: "Total HTTP requests to the view API",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onionchat_http_request_duration_seconds",
			Help:    "View API request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)

// ObserveRPC records one daemon call.
func ObserveRPC(cmd, outcome string, elapsed time.Duration) {
	RPCRequestsTotal.WithLabelValues(cmd, outcome).Inc()
	RPCDuration.WithLabelValues(cmd).Observe(elapsed.Seconds())
}

// ObserveReload records a reload completion.
func ObserveReload(trigger, outcome string, elapsed time.Duration) {
	ReloadsTotal.WithLabelValues(trigger, outcome).Inc()
	if outcome == "applied" {
		ReloadDuration.Observe(elapsed.Seconds())
	}
}
