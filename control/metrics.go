// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for server-level monitoring. Each Metrics owns its
// registry so several servers can live in one process (and in one test run).

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "wsd"

// Metrics holds the server collectors.
type Metrics struct {
	registry *prometheus.Registry

	Connections prometheus.Gauge
	Accepted    prometheus.Counter
	Handshakes  *prometheus.CounterVec // status
	Frames      *prometheus.CounterVec // direction, opcode
	Bytes       *prometheus.CounterVec // direction
	Disconnects *prometheus.CounterVec // reason
	Panics      *prometheus.CounterVec // event
	Pending     prometheus.Gauge
}

// NewMetrics creates the collectors under namespace and registers them, with
// the Go runtime and process collectors, on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "connections", Help: "Number of registered client connections"},
		),
		Accepted: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "accepted_total", Help: "Total number of accepted TCP connections"},
		),
		Handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "handshakes_total", Help: "Opening handshakes by HTTP response status"},
			[]string{"status"},
		),
		Frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "frames_total", Help: "WebSocket frames by direction and opcode"},
			[]string{"direction", "opcode"},
		),
		Bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "bytes_total", Help: "Socket bytes by direction"},
			[]string{"direction"},
		),
		Disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "disconnects_total", Help: "Client disconnects by reason"},
			[]string{"reason"},
		),
		Panics: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "callback_panics_total", Help: "Recovered callback panics by event"},
			[]string{"event"},
		),
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "pending_sends", Help: "Messages queued for clients still in the handshake"},
		),
	}
	m.registry.MustRegister(
		m.Connections, m.Accepted, m.Handshakes, m.Frames, m.Bytes,
		m.Disconnects, m.Panics, m.Pending,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HandshakeDone records a handshake outcome by the status sent back.
func (m *Metrics) HandshakeDone(status int) {
	m.Handshakes.WithLabelValues(strconv.Itoa(status)).Inc()
}

// FrameIn records one received frame of n payload bytes.
func (m *Metrics) FrameIn(opcode string, n int) {
	m.Frames.WithLabelValues("in", opcode).Inc()
	m.Bytes.WithLabelValues("in").Add(float64(n))
}

// FrameOut records one sent frame of n wire bytes.
func (m *Metrics) FrameOut(opcode string, n int) {
	m.Frames.WithLabelValues("out", opcode).Inc()
	m.Bytes.WithLabelValues("out").Add(float64(n))
}

// Disconnected records a client leaving the registry.
func (m *Metrics) Disconnected(reason string) {
	m.Connections.Dec()
	m.Disconnects.WithLabelValues(reason).Inc()
}
