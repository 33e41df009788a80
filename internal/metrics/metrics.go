package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RuleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxtag_rule_runs_total",
		Help: "Total rule engine invocations, labelled by mode and status.",
	}, []string{"mode", "status"})

	ObjectsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxtag_objects_matched_total",
		Help: "Total objects matched by rule conditions, labelled by rule ID.",
	}, []string{"rule_id"})

	TagsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxtag_tags_applied_total",
		Help: "Total tag mutations applied, labelled by direction (added/removed).",
	}, []string{"direction"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxtag_rule_run_duration_seconds",
		Help:    "End-to-end rule run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxtag_scheduler_ticks_skipped_total",
		Help: "Scheduled ticks skipped because the rule was already running.",
	})
)
