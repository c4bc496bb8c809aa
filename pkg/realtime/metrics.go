package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the client's Prometheus collectors.
type Metrics struct {
	MessagesRouted   *prometheus.CounterVec
	CommandsSent     *prometheus.CounterVec
	CommandsFailed   *prometheus.CounterVec
	Events           *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	Connected        prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	TransportErrors  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns, sub = "notebooksync", "client"
	m := &Metrics{
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "messages_routed_total",
			Help: "Inbound messages by message type and routing outcome",
		}, []string{"message_type", "outcome"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "commands_sent_total",
			Help: "Outbound commands queued on the connection",
		}, []string{"message_type"}),
		CommandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "commands_failed_total",
			Help: "Outbound commands the connection refused",
		}, []string{"message_type"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "events_total",
			Help: "State machine events processed",
		}, []string{"event"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "notifications_total",
			Help: "User-visible notices raised",
		}, []string{"severity"}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "phase_transitions_total",
			Help: "Phase changes by target phase",
		}, []string{"phase"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "connected",
			Help: "1 while a socket is open",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "connections_total",
			Help: "Sockets opened",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "transport_errors_total",
			Help: "Read and write errors reported by the connection",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesRouted, m.CommandsSent, m.CommandsFailed, m.Events,
			m.Notifications, m.PhaseTransitions, m.Connected,
			m.ConnectionsTotal, m.TransportErrors,
		)
	}
	return m
}
