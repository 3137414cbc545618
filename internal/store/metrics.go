package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_store_commits_total",
			Help: "Total number of committed blocks",
		},
	)

	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockindexor_store_commit_duration_seconds",
			Help:    "Duration of block commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	entityOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexor_store_entity_operations_total",
			Help: "Total number of applied entity operations by entity type and operation",
		},
		[]string{"entity_type", "op"},
	)

	truncationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_store_truncations_total",
			Help: "Total number of store truncations",
		},
	)

	restoredEntitiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_store_restored_entities_total",
			Help: "Total number of entity changes undone by truncations",
		},
	)

	watermarkHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_store_watermark_height",
			Help: "Last processed height persisted in the store",
		},
	)
)

func CommitLog(duration time.Duration, height uint64) {
	commitsTotal.Inc()
	commitDuration.Observe(duration.Seconds())
	watermarkHeight.Set(float64(height))
}

func EntityOpInc(entityType, op string) {
	entityOpsTotal.WithLabelValues(entityType, op).Inc()
}

func TruncateLog(restored int, watermark uint64) {
	truncationsTotal.Inc()
	restoredEntitiesTotal.Add(float64(restored))
	watermarkHeight.Set(float64(watermark))
}
