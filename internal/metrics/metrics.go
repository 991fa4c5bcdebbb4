// Package metrics holds the prometheus instruments of a single connection.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coopparty"

type Metrics struct {
	PacketsSent     *prometheus.CounterVec
	PacketsReceived *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec
	QueueDropped    prometheus.Counter
	Latency         prometheus.Gauge
	Connections     prometheus.Counter
	Rejected        prometheus.Counter
}

// New builds the instruments for role ("host" or "client") and registers
// them with reg. A nil reg leaves them unregistered, which is what tests
// that read counters directly want.
func New(reg prometheus.Registerer, role string) *Metrics {
	labels := prometheus.Labels{"role": role}

	m := &Metrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "packets_sent_total",
			Help:        "Packets written to the peer, by packet type.",
			ConstLabels: labels,
		}, []string{"type"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "packets_received_total",
			Help:        "Packets decoded from the peer, by packet type.",
			ConstLabels: labels,
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "decode_errors_total",
			Help:        "Received packets discarded because they failed to decode.",
			ConstLabels: labels,
		}, []string{"reason"}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "send_queue_dropped_total",
			Help:        "State packets dropped from a full send queue.",
			ConstLabels: labels,
		}),
		Latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "latency_seconds",
			Help:        "Last measured round trip time.",
			ConstLabels: labels,
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_total",
			Help:        "Established peer connections.",
			ConstLabels: labels,
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_rejected_total",
			Help:        "Inbound peers turned away because a session was already in progress.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PacketsSent,
			m.PacketsReceived,
			m.DecodeErrors,
			m.QueueDropped,
			m.Latency,
			m.Connections,
			m.Rejected,
		)
	}

	return m
}

func (m *Metrics) Sent(typ string) {
	if m == nil {
		return
	}
	m.PacketsSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) Received(typ string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.Latency.Set(d.Seconds())
}

func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) Reject() {
	if m == nil {
		return
	}
	m.Rejected.Inc()
}
