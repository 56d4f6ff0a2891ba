package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	vmTagSync = "vmtag_sync"

	// Sync metrics
	entityStatusTotal    = "entity_status_total"
	categoryOutcomeTotal = "category_outcome_total"
	lastRunTimestamp     = "last_run_timestamp_seconds"
	runDurationSeconds   = "run_duration_seconds"

	// Labels
	entityStatusLabel    = "status"
	categoryOutcomeLabel = "outcome"
	dryRunLabel          = "dry_run"
)

var entityStatusTotalLabels = []string{
	entityStatusLabel,
}

var categoryOutcomeTotalLabels = []string{
	categoryOutcomeLabel,
}

var runLabels = []string{
	dryRunLabel,
}

/**
* Metrics definition
**/
var entityStatusTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vmTagSync,
		Name:      entityStatusTotal,
		Help:      "number of processed desired-state rows per entity status",
	},
	entityStatusTotalLabels,
)

var categoryOutcomeTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vmTagSync,
		Name:      categoryOutcomeTotal,
		Help:      "number of category reconciliations per outcome",
	},
	categoryOutcomeTotalLabels,
)

var lastRunTimestampMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: vmTagSync,
		Name:      lastRunTimestamp,
		Help:      "unix time the last sync run finished",
	},
	runLabels,
)

var runDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: vmTagSync,
		Name:      runDurationSeconds,
		Help:      "duration of sync runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	},
	runLabels,
)

func IncreaseEntityStatusTotalMetric(status string) {
	labels := prometheus.Labels{
		entityStatusLabel: status,
	}
	entityStatusTotalMetric.With(labels).Inc()
}

func IncreaseCategoryOutcomeTotalMetric(outcome string) {
	labels := prometheus.Labels{
		categoryOutcomeLabel: outcome,
	}
	categoryOutcomeTotalMetric.With(labels).Inc()
}

func ObserveRun(dryRun bool, finishedAt time.Time, duration time.Duration) {
	labels := prometheus.Labels{
		dryRunLabel: strconv.FormatBool(dryRun),
	}
	lastRunTimestampMetric.With(labels).Set(float64(finishedAt.Unix()))
	runDurationMetric.With(labels).Observe(duration.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(entityStatusTotalMetric)
	prometheus.MustRegister(categoryOutcomeTotalMetric)
	prometheus.MustRegister(lastRunTimestampMetric)
	prometheus.MustRegister(runDurationMetric)
}
