// Package metrics implements Prometheus metrics for the dataflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesPushed counts batches pushed onto a channel, by channel kind.
	BatchesPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_channel_batches_pushed_total",
			Help: "Total number of batches pushed onto a channel",
		},
		[]string{"job", "channel_kind"},
	)

	// BatchesPulled counts batches pulled off a channel, by channel kind.
	BatchesPulled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_channel_batches_pulled_total",
			Help: "Total number of batches pulled off a channel",
		},
		[]string{"job", "channel_kind"},
	)

	// OutstandingTags tracks the number of in-flight tags per channel.
	OutstandingTags = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pegasus_channel_outstanding_tags",
			Help: "Number of tags with nonzero outstanding count on a channel",
		},
		[]string{"job", "channel"},
	)

	// WaterMarkCrossings counts high/low water-mark edge crossings.
	WaterMarkCrossings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_channel_watermark_crossings_total",
			Help: "Total number of high/low water-mark crossings",
		},
		[]string{"job", "channel", "direction"},
	)

	// ScheduledOperators counts operator admissions by the resource scheduler.
	ScheduledOperators = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_scheduler_admissions_total",
			Help: "Total number of operator admissions granted by GetTask",
		},
		[]string{"job", "operator", "mode"},
	)

	// ReservedBytes tracks the worker's currently reserved output memory.
	ReservedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pegasus_scheduler_reserved_bytes",
			Help: "Bytes currently reserved against a worker's memory ceiling",
		},
		[]string{"job", "worker"},
	)

	// WorkerLoopIterations counts iterations of a worker's cooperative loop.
	WorkerLoopIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_worker_loop_iterations_total",
			Help: "Total number of cooperative scheduling loop iterations",
		},
		[]string{"job", "worker"},
	)

	// PanicsRecovered counts operator panics caught at the firing boundary.
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_worker_operator_panics_total",
			Help: "Total number of operator panics recovered at the firing boundary",
		},
		[]string{"job", "operator"},
	)

	// CancelsIssued counts backward cancellation events emitted.
	CancelsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pegasus_cancel_issued_total",
			Help: "Total number of backward Cancel events issued",
		},
		[]string{"job", "channel", "cascade"},
	)

	// IterationRounds tracks how many rounds an iteration controller has run.
	IterationRounds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pegasus_iterate_rounds",
			Help: "Current round number of an iteration controller, by scope",
		},
		[]string{"job", "scope"},
	)
)
