// Package monitor exposes Prometheus metrics for pipeline stages and evaluation runs.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as metric labels
const (
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageValidation = "validation"
	StageExecution  = "execution"
	StageRefinement = "refinement"
)

var (
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_stage_failures_total",
			Help: "Total number of failed pipeline stages.",
		},
		[]string{"stage"},
	)
	safetyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_safety_rejections_total",
			Help: "Total number of queries rejected by deterministic safety rules.",
		},
	)
	retrievalFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_retrieval_fallbacks_total",
			Help: "Total number of generations that fell back to the full schema.",
		},
	)
	rowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_rows_returned",
			Help:    "Rows produced by executed queries before truncation.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
	)
	truncatedResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_truncated_results_total",
			Help: "Total number of results clipped to the row cap.",
		},
	)
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_dialog_intents_total",
			Help: "Total number of classified conversation turns by intent.",
		},
		[]string{"intent"},
	)
	evalCasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_eval_cases_total",
			Help: "Total number of evaluated test cases by outcome.",
		},
		[]string{"outcome"},
	)
	schemaCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_schema_cache_lookups_total",
			Help: "Total number of schema cache lookups by result.",
		},
		[]string{"result"},
	)
	calibrationDeviation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_eval_calibration_deviation",
			Help: "Confidence calibration deviation of the last finalized evaluation run.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		stageDurationSeconds,
		stageFailuresTotal,
		safetyRejectionsTotal,
		retrievalFallbacksTotal,
		rowsReturned,
		truncatedResultsTotal,
		intentsTotal,
		evalCasesTotal,
		schemaCacheTotal,
		calibrationDeviation,
	)
}

// ObserveStage records a stage's duration and whether it failed
func ObserveStage(stage string, duration time.Duration, failed bool) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())

	if failed {
		stageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func RecordSafetyRejection() {
	safetyRejectionsTotal.Inc()
}

func RecordRetrievalFallback() {
	retrievalFallbacksTotal.Inc()
}

// RecordExecution records the total row count of a successful execution
func RecordExecution(rowCount int, truncated bool) {
	rowsReturned.Observe(float64(rowCount))

	if truncated {
		truncatedResultsTotal.Inc()
	}
}

func RecordIntent(intent string) {
	intentsTotal.WithLabelValues(intent).Inc()
}

// RecordEvalCase counts a finished test case; outcome is passed, failed or error
func RecordEvalCase(outcome string) {
	evalCasesTotal.WithLabelValues(outcome).Inc()
}

// RecordSchemaCache counts a cache lookup as hit or miss
func RecordSchemaCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	schemaCacheTotal.WithLabelValues(result).Inc()
}

func SetCalibrationDeviation(v float64) {
	calibrationDeviation.Set(v)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
