// Package stats is the Prometheus-backed metrics sink for the transport
// core. It implements endpoint.Observer so a TunnelOutEndpoint can report
// send/ack/nack events without the endpoint package importing prometheus
// itself, keeping the core's dependency surface narrow while still giving
// an operator real counters to scrape.
//
// Naming follows the teacher's own convention documented in
// stats/target_stats.go ("*.n" counter, "*.size" size, "*.ns" latency),
// translated into Prometheus's metric-name-plus-labels idiom: one vector
// per concern, labeled by port_id rather than one flat key per port.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowweave/transport/conn"
	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/monitor"
)

const namespace = "flowweave_transport"

// Registry is the process-wide metrics set. Construct one with New and
// pass it (or a no-op) as endpoint.Extra.Stats / monitor wiring; nil is a
// valid Observer value everywhere it's accepted, so Registry is never
// required to exist.
type Registry struct {
	reg *prometheus.Registry

	tokensSent    *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	tokensAcked   *prometheus.CounterVec
	tokensNacked  *prometheus.CounterVec
	monitorTicks  prometheus.Counter
	connOpened    *prometheus.CounterVec
	connClosed    *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	monitorErrors prometheus.Counter
}

var (
	_ endpoint.Observer    = (*Registry)(nil)
	_ monitor.TickObserver = (*Registry)(nil)
	_ conn.ConnStats       = (*Registry)(nil)
)

// New builds a Registry with its own prometheus.Registry (not the global
// DefaultRegisterer) so multiple instances — e.g. one per test — never
// collide on metric registration.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		tokensSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_sent_total",
			Help:      "Tokens sent on a TunnelOutEndpoint, before any ack.",
		}, []string{"port_id"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Encoded (post-compression) token bytes sent on a TunnelOutEndpoint.",
		}, []string{"port_id"}),
		tokensAcked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_acked_total",
			Help:      "TOKEN_REPLY ACKs received on a TunnelOutEndpoint.",
		}, []string{"port_id"}),
		tokensNacked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_nacked_total",
			Help:      "TOKEN_REPLY NACKs received on a TunnelOutEndpoint.",
		}, []string{"port_id"}),
		monitorTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_ticks_total",
			Help:      "Monitor.do() invocations across all registered endpoints.",
		}),
		monitorErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_communicate_panics_total",
			Help:      "Recovered panics from a Communicator's Communicate call.",
		}),
		connOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Successful Connect calls, labeled by connection kind (local/tunnel).",
		}, []string{"kind"}),
		connClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Successful Disconnect calls, labeled by connection kind (local/tunnel).",
		}, []string{"kind"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Last-observed committed queue depth for a port.",
		}, []string{"port_id"}),
	}
}

// TokenSent implements endpoint.Observer.
func (r *Registry) TokenSent(portID string, bytes int) {
	r.tokensSent.WithLabelValues(portID).Inc()
	r.bytesSent.WithLabelValues(portID).Add(float64(bytes))
}

// TokenAcked implements endpoint.Observer.
func (r *Registry) TokenAcked(portID string) { r.tokensAcked.WithLabelValues(portID).Inc() }

// TokenNacked implements endpoint.Observer.
func (r *Registry) TokenNacked(portID string) { r.tokensNacked.WithLabelValues(portID).Inc() }

// MonitorTick records one Monitor.do() sweep; wired into monitor.Monitor
// via the optional TickObserver hook (see monitor.go).
func (r *Registry) MonitorTick() { r.monitorTicks.Inc() }

// CommunicatePanicRecovered records one Communicator panic the Monitor
// caught and recovered from.
func (r *Registry) CommunicatePanicRecovered() { r.monitorErrors.Inc() }

// ConnectionOpened records a successful conn.LocalConnection/TunnelConnection
// Connect, labeled by kind ("local" or "tunnel").
func (r *Registry) ConnectionOpened(kind string) { r.connOpened.WithLabelValues(kind).Inc() }

// ConnectionClosed records a successful Disconnect, labeled the same way.
func (r *Registry) ConnectionClosed(kind string) { r.connClosed.WithLabelValues(kind).Inc() }

// SetQueueDepth records the last-observed committed depth of a port's queue,
// sampled by callers (e.g. a periodic housekeeping pass) rather than on
// every token, since depth is a gauge not a counted event.
func (r *Registry) SetQueueDepth(portID string, depth int) {
	r.queueDepth.WithLabelValues(portID).Set(float64(depth))
}

// Handler exposes the registry in the Prometheus text exposition format,
// wired into cmd/flowctl's demo HTTP listener.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
