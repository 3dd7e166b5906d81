// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "channelgw"

var (
	registerOnce sync.Once

	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connections",
			Help:      "Live client connections.",
		},
		[]string{"transport"},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connections_total",
			Help:      "Connection attempts by result.",
		},
		[]string{"transport", "result"},
	)
	joins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "joins_total",
			Help:      "Join requests by result.",
		},
		[]string{"result"},
	)
	channels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "processes",
			Help:      "Running channel processes.",
		},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "exits_total",
			Help:      "Channel process exits.",
		},
		[]string{"normal"},
	)
	heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "heartbeats_total",
			Help:      "Heartbeats answered.",
		},
	)
	originRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "origin_rejected_total",
			Help:      "Connections refused by the origin check.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connections, connectionsTotal, joins, channels, exits, heartbeats, originRejects)
	})
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func SocketOpened(transport string) {
	RegisterMetrics()
	connections.WithLabelValues(transport).Inc()
	connectionsTotal.WithLabelValues(transport, "accepted").Inc()
}

func SocketClosed(transport string) {
	RegisterMetrics()
	connections.WithLabelValues(transport).Dec()
}

func ConnectRejected(transport string) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(transport, "rejected").Inc()
}

func OriginRejected() {
	RegisterMetrics()
	originRejects.Inc()
}

// Join records a join attempt; result is ok, rejected or unmatched.
func Join(result string) {
	RegisterMetrics()
	joins.WithLabelValues(result).Inc()
	if result == "ok" {
		channels.Inc()
	}
}

func ChannelExited(normal bool) {
	RegisterMetrics()
	channels.Dec()
	exits.WithLabelValues(strconv.FormatBool(normal)).Inc()
}

func Heartbeat() {
	RegisterMetrics()
	heartbeats.Inc()
}
