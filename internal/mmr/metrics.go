package mmr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leafCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_mmr_leaf_count",
			Help: "Number of leaves in the proof-of-index merkle mountain range",
		},
	)

	integrityErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_mmr_integrity_errors_total",
			Help: "Total number of merkle mountain range integrity check failures",
		},
	)
)

func LeafCountLog(count uint64) {
	leafCount.Set(float64(count))
}

func IntegrityErrorInc() {
	integrityErrors.Inc()
}
