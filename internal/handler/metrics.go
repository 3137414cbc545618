package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockindexor_handler_duration_seconds",
			Help:    "Duration of handler executions per block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	handlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_handler_errors_total",
			Help: "Total number of failed handler executions",
		},
		[]string{"handler"},
	)

	handlerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_handler_entity_operations_total",
			Help: "Total number of entity operations produced by handlers",
		},
		[]string{"handler"},
	)
)

func HandlerDurationLog(handler string, duration time.Duration) {
	handlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

func HandlerErrorInc(handler string) {
	handlerErrors.WithLabelValues(handler).Inc()
}

func HandlerOpsAdd(handler string, count int) {
	handlerOps.WithLabelValues(handler).Add(float64(count))
}
