package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collaboration server collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	ActiveSessions     prometheus.Gauge
	MessagesDispatched *prometheus.CounterVec
	BroadcastFailures  prometheus.Counter
}

// NewMetrics registers the collaboration metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "sonolumi_collab_active_connections",
			Help: "Current number of connected participants",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "sonolumi_collab_active_sessions",
			Help: "Current number of live sessions",
		}),
		MessagesDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sonolumi_collab_messages_dispatched_total",
			Help: "Total number of client messages dispatched, by inbound type",
		}, []string{"type"}),
		BroadcastFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sonolumi_collab_broadcast_failures_total",
			Help: "Total number of per-recipient delivery failures",
		}),
	}
}

// Connected counts a participant that completed its join
func (m *Metrics) Connected() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// Disconnected counts a participant that left or was replaced
func (m *Metrics) Disconnected() {
	if m == nil || m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// SetSessions records the current number of live sessions
func (m *Metrics) SetSessions(n int) {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordDispatch counts one dispatched client message of the given kind
func (m *Metrics) RecordDispatch(kind string) {
	if m == nil || m.MessagesDispatched == nil {
		return
	}
	m.MessagesDispatched.WithLabelValues(kind).Inc()
}

// RecordBroadcast adds the failed deliveries of one fan-out
func (m *Metrics) RecordBroadcast(res BroadcastResult) {
	if m == nil || m.BroadcastFailures == nil || res.Failed == 0 {
		return
	}
	m.BroadcastFailures.Add(float64(res.Failed))
}
