package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	headBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_head_block",
			Help: "The current chain head at the configured finality",
		},
	)

	fetchCursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_fetch_cursor",
			Help: "The next height to be claimed by a fetch worker",
		},
	)

	blocksFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_blocks_fetched_total",
			Help: "Total number of fetched blocks",
		},
	)

	fetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_fetch_errors_total",
			Help: "Total number of heights that could not be fetched",
		},
	)

	queueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_queue_length",
			Help: "Number of fetched blocks waiting for the dispatcher",
		},
	)
)

func HeadLog(blockNum uint64) {
	headBlock.Set(float64(blockNum))
}

func CursorLog(height uint64) {
	fetchCursor.Set(float64(height))
}

func BlocksFetchedInc() {
	blocksFetched.Inc()
}

func FetchErrorInc() {
	fetchErrors.Inc()
}

func QueueLenLog(length int) {
	queueLength.Set(float64(length))
}
