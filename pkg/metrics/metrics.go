// Package metrics exposes Prometheus counters for the forking store.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricMutations        = "mutations_total"
	MetricNotifications    = "notifications_total"
	MetricObserverFailures = "observer_failures_total"
	MetricPushes           = "pushes_total"
	MetricDiscardedQuads   = "discarded_quads_total"
)

// CounterMutations counts quads handed to AddAll and RemoveStatements, by op.
var CounterMutations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quadfork",
		Name:      MetricMutations,
		Help:      "Quads submitted to the write path.",
	},
	[]string{
		"op",
	},
)

// CounterNotifications counts flushed observer batches.
var CounterNotifications = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "quadfork",
		Name:      MetricNotifications,
		Help:      "Batched change notifications delivered to observers.",
	},
)

// CounterObserverFailures counts observer callbacks that returned an error or panicked.
var CounterObserverFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "quadfork",
		Name:      MetricObserverFailures,
		Help:      "Observer callbacks that failed.",
	},
)

// CounterPushes counts per-graph pushes, by outcome.
var CounterPushes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "quadfork",
		Name:      MetricPushes,
		Help:      "Per-graph pushes through the update transport.",
	},
	[]string{
		"outcome",
	},
)

// CounterDiscardedQuads counts pending quads cleared after a failed push.
var CounterDiscardedQuads = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "quadfork",
		Name:      MetricDiscardedQuads,
		Help:      "Pending quads cleared from shadow graphs after a failed push.",
	},
)

func init() {
	prometheus.MustRegister(CounterMutations)
	prometheus.MustRegister(CounterNotifications)
	prometheus.MustRegister(CounterObserverFailures)
	prometheus.MustRegister(CounterPushes)
	prometheus.MustRegister(CounterDiscardedQuads)
}
