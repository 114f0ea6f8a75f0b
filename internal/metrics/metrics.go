// Package metrics provides Prometheus instrumentation for the reveal
// services. It exposes gauges for connections and running reveals, counters
// for frame, message and side-effect throughput, and histograms for reveal
// and dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reveal_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts client protocol messages, labeled by type:
	// "sent", "received", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reveal_messages_total",
		Help: "Total number of client protocol messages processed",
	}, []string{"type"})

	// MessageLatency records client message handling latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reveal_message_latency_seconds",
		Help:    "Client message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ActiveReveals tracks reveal sessions that have not completed yet.
	ActiveReveals = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reveal_active_sessions",
		Help: "Current number of running reveal sessions",
	})

	// RevealsCompleted counts completed reveals by status and whether the
	// user skipped.
	RevealsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reveal_completed_total",
		Help: "Total number of completed reveal sessions",
	}, []string{"status", "skipped"})

	// RevealDuration records the time from watch start to completion.
	RevealDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reveal_duration_seconds",
		Help:    "Time from watch start to reveal completion",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
	})

	// FramesTotal counts transport frames, labeled by direction
	// ("published", "received") and frame type.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reveal_frames_total",
		Help: "Total number of transport frames",
	}, []string{"direction", "type"})

	// EffectsTotal counts side-effects by outcome: "played", "sent",
	// "dropped", "failed" or "limited".
	EffectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reveal_effects_total",
		Help: "Total number of side-effect events by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		MessageLatency,
		ActiveReveals,
		RevealsCompleted,
		RevealDuration,
		FramesTotal,
		EffectsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
