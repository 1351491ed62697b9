package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relay metrics, exposed when the shim is started with --metrics-addr.
// These are observational only; nothing in the relay consults them.

var (
	// ConnectionsTotal counts client connections accepted per relay port.
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyscript_relay_connections_total",
			Help: "Total number of Jupyter client connections accepted, labeled by relay port.",
		},
		[]string{"port"},
	)

	// DialFailuresTotal counts failed outbound connects to the kernel.
	DialFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyscript_relay_dial_failures_total",
			Help: "Total number of failed outbound connections to the pyscript kernel, labeled by relay port.",
		},
		[]string{"port"},
	)

	// RelayedBytesTotal counts payload bytes copied through the relay.
	RelayedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pyscript_relay_bytes_total",
			Help: "Total number of bytes relayed, labeled by relay port and direction (c2k, k2c).",
		},
		[]string{"port", "direction"},
	)
)

// MustRegisterMetrics registers the relay metrics with the default
// Prometheus registry. Call at most once, before serving /metrics.
func MustRegisterMetrics() {
	prometheus.MustRegister(
		ConnectionsTotal,
		DialFailuresTotal,
		RelayedBytesTotal,
	)
}
