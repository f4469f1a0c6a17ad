// Package metrics defines the Prometheus registry shared by a phase
// binary's detection, execution, and IPC surfaces. Unlike the teacher's
// package-level prometheus.MustRegister globals, every metric here lives on
// a Registry instance constructed once and passed to its owning component,
// so tests can swap in a fresh registry instead of sharing process-global
// state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric a phase binary exposes at GET /metrics.
type Registry struct {
	reg *prometheus.Registry

	SignalLatency    *prometheus.HistogramVec
	ExecutionLatency *prometheus.HistogramVec
	IntentsTotal     *prometheus.CounterVec
	AuthFailures     prometheus.Counter
	IPCLagSeconds    *prometheus.GaugeVec
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesFailed   *prometheus.CounterVec
	ReconnectTotal   *prometheus.CounterVec
	TicksDropped     *prometheus.CounterVec
}

// New builds a Registry with every metric registered against a fresh
// *prometheus.Registry (never the global default), labeled with namespace
// "titan".
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SignalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "titan",
			Subsystem: "detection",
			Name:      "signal_latency_seconds",
			Help:      "Time from trade ingestion to signal emission.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tripwire_id"}),
		ExecutionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "titan",
			Subsystem: "router",
			Name:      "execution_latency_seconds",
			Help:      "Time from intent dispatch to venue acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
		IntentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "router",
			Name:      "intents_total",
			Help:      "Signed intents dispatched, by venue and outcome.",
		}, []string{"venue", "outcome"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "auth_failures_total",
			Help:      "Intents rejected for MAC mismatch or stale timestamp.",
		}),
		IPCLagSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "lag_seconds",
			Help:      "Age of the oldest outstanding correlation slot.",
		}, []string{"connection"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "messages_sent_total",
			Help:      "IPC messages sent, by connection.",
		}, []string{"connection"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "messages_received_total",
			Help:      "IPC messages received, by connection.",
		}, []string{"connection"}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "messages_failed_total",
			Help:      "IPC messages that failed or timed out, by connection.",
		}, []string{"connection"}),
		ReconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "ipc",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts, by connection.",
		}, []string{"connection"}),
		TicksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "titan",
			Subsystem: "detection",
			Name:      "ticks_dropped_total",
			Help:      "Non-matching ticks dropped from a full ingestion queue, by symbol.",
		}, []string{"symbol"}),
	}

	reg.MustRegister(
		r.SignalLatency,
		r.ExecutionLatency,
		r.IntentsTotal,
		r.AuthFailures,
		r.IPCLagSeconds,
		r.MessagesSent,
		r.MessagesReceived,
		r.MessagesFailed,
		r.ReconnectTotal,
		r.TicksDropped,
	)
	return r
}

// Handler returns the text-exposition HTTP handler for this registry's
// metrics, to be mounted at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
