// Package metrics exposes Prometheus instrumentation for Blockgate sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "blockgate"

// Metrics holds the collectors. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionDuration  prometheus.Histogram
	packetsIn        *prometheus.CounterVec
	packetsOut       prometheus.Counter
	bytesIn          prometheus.Counter
	bytesOut         prometheus.Counter
	disconnects      *prometheus.CounterVec
	logins           *prometheus.CounterVec
	keepAliveLatency prometheus.Histogram
	playersOnline    prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Number of open client connections",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted client connections",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of client connections",
			Buckets:   []float64{0.1, 1, 10, 60, 600, 3600, 14400},
		}),
		packetsIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_received_total",
			Help:      "Packets received by connection state",
		}, []string{"state"}),
		packetsOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "packets_sent_total",
			Help:      "Packets written to clients",
		}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes read from client sockets",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to client sockets",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "disconnects_total",
			Help:      "Session terminations by cause",
		}, []string{"cause"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logins_total",
			Help:      "Completed logins by protocol version",
		}, []string{"version"}),
		keepAliveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "keepalive_latency_seconds",
			Help:      "Keep-alive round trip time",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		playersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "players_online",
			Help:      "Number of logged-in players",
		}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened records an accepted connection.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records a connection teardown and the cause.
func (m *Metrics) SessionClosed(cause string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(lifetime.Seconds())
	m.disconnects.WithLabelValues(cause).Inc()
}

// PacketReceived records one decoded packet.
func (m *Metrics) PacketReceived(state string) {
	if m == nil {
		return
	}
	m.packetsIn.WithLabelValues(state).Inc()
}

// PacketsSent records written packets.
func (m *Metrics) PacketsSent(n int) {
	if m == nil || n == 0 {
		return
	}
	m.packetsOut.Add(float64(n))
}

// BytesReceived records bytes read from a socket.
func (m *Metrics) BytesReceived(n int) {
	if m == nil || n == 0 {
		return
	}
	m.bytesIn.Add(float64(n))
}

// BytesSent records bytes written to a socket.
func (m *Metrics) BytesSent(n int) {
	if m == nil || n == 0 {
		return
	}
	m.bytesOut.Add(float64(n))
}

// LoginCompleted records a player that reached the configuration state.
func (m *Metrics) LoginCompleted(version string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(version).Inc()
}

// KeepAliveLatency records a keep-alive round trip.
func (m *Metrics) KeepAliveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.keepAliveLatency.Observe(d.Seconds())
}

// SetPlayersOnline updates the online player gauge.
func (m *Metrics) SetPlayersOnline(n int) {
	if m == nil {
		return
	}
	m.playersOnline.Set(float64(n))
}
