package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_retries_total",
			Help: "Total number of scheduled retries",
		},
	)

	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_retries_exhausted_total",
			Help: "Total number of operations that failed after all attempts",
		},
	)
)

func RetriesInc() {
	Retries.Inc()
}

func ExhaustedInc() {
	RetriesExhausted.Inc()
}
