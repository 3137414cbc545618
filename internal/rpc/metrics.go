package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_rpc_errors_total",
			Help: "Total number of RPC errors by method and type",
		},
		[]string{"method", "error_type"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockindexor_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Connection pool metrics
	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockindexor_rpc_endpoint_healthy",
			Help: "Whether an endpoint is currently selectable (1) or excluded (0)",
		},
		[]string{"endpoint"},
	)

	EndpointLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockindexor_rpc_endpoint_latency_seconds",
			Help: "Latency of the last successful request per endpoint",
		},
		[]string{"endpoint"},
	)

	EndpointRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_rpc_endpoint_recoveries_total",
			Help: "Total number of unhealthy endpoints restored by the health probe",
		},
		[]string{"endpoint"},
	)
)

func RPCMethodInc(method string) {
	RPCRequests.WithLabelValues(method).Inc()
}

func RPCMethodDuration(method string, duration time.Duration) {
	RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RPCMethodError(method, errorType string) {
	RPCErrors.WithLabelValues(method, errorType).Inc()
}

func EndpointHealthLog(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	EndpointHealthy.WithLabelValues(endpoint).Set(value)
}

func EndpointLatencyLog(endpoint string, latency time.Duration) {
	EndpointLatency.WithLabelValues(endpoint).Set(latency.Seconds())
}

func EndpointRecoveryInc(endpoint string) {
	EndpointRecoveries.WithLabelValues(endpoint).Inc()
}
