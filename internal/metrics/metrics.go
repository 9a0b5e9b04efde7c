// Package metrics provides Prometheus metrics for the collaboration server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/montage-studio/montage"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	ResyncsTotal      *prometheus.CounterVec
	CheckpointsTotal  prometheus.Counter
	ChatMessagesTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "montage_operations_total",
				Help: "Submitted operations by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "montage_connections_active",
				Help: "Open collaboration socket connections.",
			},
		),
		ResyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "montage_resyncs_total",
				Help: "Reconnect catch-ups by mode (deltas or snapshot).",
			},
			[]string{"mode"},
		),
		CheckpointsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "montage_checkpoints_total",
				Help: "Snapshots persisted by the checkpointer.",
			},
		),
		ChatMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "montage_chat_messages_total",
				Help: "Chat messages persisted and broadcast.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.ConnectionsActive)
	reg.MustRegister(m.ResyncsTotal)
	reg.MustRegister(m.CheckpointsTotal)
	reg.MustRegister(m.ChatMessagesTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOutcome increments the operation counter.
func (m *Metrics) RecordOutcome(kind montage.OpKind, status montage.OutcomeStatus) {
	m.OperationsTotal.WithLabelValues(string(kind), string(status)).Inc()
}

// RecordResync increments the resync counter.
func (m *Metrics) RecordResync(mode string) {
	m.ResyncsTotal.WithLabelValues(mode).Inc()
}

// OperationCommitted counts committed operations. Implements the resolver
// commit hook.
func (m *Metrics) OperationCommitted(op montage.Operation, delta montage.Delta, sessionID string) {
	m.RecordOutcome(op.Kind, montage.StatusAccepted)
}
