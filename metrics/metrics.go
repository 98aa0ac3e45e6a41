// Package metrics holds the Prometheus collectors shared by the gateway and the backends.
// All collectors register with the default registry and are served by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "polygate"

var (
	// RPCCallDuration observes gateway-side backend calls.
	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rpc_client",
		Name:      "call_duration_seconds",
		Help:      "Duration of backend RPC calls issued by the gateway",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"service", "op", "code"})

	// BackendUp is 1 while the gateway holds a live connection to the backend.
	BackendUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rpc_client",
		Name:      "backend_up",
		Help:      "Whether the gateway currently holds a live connection to the backend",
	}, []string{"service", "addr"})

	// RPCRequests counts requests handled by a backend server.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc_server",
		Name:      "requests_total",
		Help:      "Total number of RPC requests handled, by operation and result code",
	}, []string{"operation", "code"})

	// RPCCancelled counts in-flight requests abandoned after a Cancel frame or disconnect.
	RPCCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc_server",
		Name:      "cancelled_total",
		Help:      "Total number of in-flight RPC requests cancelled by the caller",
	})

	// SurfaceRequests counts public requests by surface (http, graph) and outcome.
	SurfaceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total number of public requests, by surface, resource, operation and result code",
	}, []string{"surface", "resource", "op", "code"})

	// SurfaceDuration observes public request latency by surface.
	SurfaceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Duration of public requests, by surface",
		Buckets:   prometheus.DefBuckets,
	}, []string{"surface"})
)
