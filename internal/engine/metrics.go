package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/roach88/knhk/internal/engine")

var (
	// fiberStepsTotal counts fiber steps that found a delta, by status.
	fiberStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "fiber_steps_total",
		Help:      "Fiber steps that consumed a delta, by status",
	}, []string{"status"})

	// actionsTotal counts actions written to assertion rings.
	actionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "actions_total",
		Help:      "Actions produced by completed reconciliations",
	})

	// parkedTotal counts deltas handed to the overflow sink, by cause.
	parkedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "parked_total",
		Help:      "Deltas parked to the overflow sink, by cause",
	}, []string{"cause"})

	// parkFailedTotal counts parked deltas the overflow sink refused.
	parkFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "park_failed_total",
		Help:      "Parked deltas the overflow sink refused",
	})

	// provenanceMismatchTotal counts integrity failures.
	provenanceMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "provenance_mismatch_total",
		Help:      "Reconciliations whose action digest did not match the delta",
	})

	// ringBusyTotal counts enqueues rejected because the slot was full.
	ringBusyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "ring_busy_total",
		Help:      "Enqueues rejected with a busy slot, by ring",
	}, []string{"ring"})

	// tickCost tracks the tick cost of completed reconciliations.
	tickCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "tick_cost",
		Help:      "Tick cost of completed reconciliations",
		Buckets:   prometheus.LinearBuckets(0, 1, 9),
	})

	// commitDuration tracks cycle commit latency.
	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "commit_duration_seconds",
		Help:      "Cycle commit duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	})

	// cyclesCommittedTotal counts epochs appended to the provenance log.
	cyclesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knhk",
		Subsystem: "engine",
		Name:      "cycles_committed_total",
		Help:      "Epochs committed to the provenance log",
	})
)
