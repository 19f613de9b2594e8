// Package metrics exposes Prometheus collectors for the relay server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus collectors. Each Metrics value owns
// its own registry so independent servers (and tests) never collide on
// collector registration.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions prometheus.Gauge
	SessionsReaped prometheus.Counter

	// Transport metrics
	TCPConnections prometheus.Gauge
	TCPCommands    prometheus.Counter
	UDPPackets     prometheus.Counter

	// Relay metrics
	RelayedMessages        *prometheus.CounterVec
	UnauthenticatedPackets prometheus.Counter
	ProtocolErrors         prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guildmaster_active_sessions",
			Help: "Current number of live player sessions",
		}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildmaster_sessions_reaped_total",
			Help: "Total number of sessions evicted for inactivity",
		}),

		TCPConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guildmaster_tcp_connections",
			Help: "Current number of open TCP connections",
		}),
		TCPCommands: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildmaster_tcp_commands_total",
			Help: "Total number of TCP command lines received",
		}),
		UDPPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildmaster_udp_packets_total",
			Help: "Total number of UDP datagrams received",
		}),

		RelayedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guildmaster_relayed_messages_total",
			Help: "Total number of messages relayed to clients",
		}, []string{"transport"}),
		UnauthenticatedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildmaster_udp_unauthenticated_total",
			Help: "Total number of UDP packets dropped for an unknown token",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "guildmaster_protocol_errors_total",
			Help: "Total number of malformed or unknown messages received",
		}),
	}
}

// Handler serves the collectors in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
