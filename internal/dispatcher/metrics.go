package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatcherState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_dispatcher_state",
			Help: "Current dispatcher state (0=idle, 1=draining, 2=executing, 3=committing, 4=advancing, 5=error, 6=rolling_back, 7=stopped)",
		},
	)

	reorderBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockindexor_dispatcher_reorder_buffer_blocks",
			Help: "Number of out-of-order blocks waiting for their predecessors",
		},
	)

	handlerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_dispatcher_handler_retries_total",
			Help: "Total number of failed handler attempts that were retried",
		},
	)

	rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexor_dispatcher_rollbacks_total",
			Help: "Total number of rollbacks performed by the dispatcher",
		},
	)
)

func StateLog(s State) {
	dispatcherState.Set(float64(s))
}

func ReorderBufferLog(n int) {
	reorderBuffered.Set(float64(n))
}

func HandlerRetryInc() {
	handlerRetries.Inc()
}

func RollbackInc() {
	rollbacks.Inc()
}
