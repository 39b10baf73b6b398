// Package telemetry exposes the Prometheus metrics emitted by the batch
// executor and result processor, grounded on the pack's
// prometheus/client_golang + promauto wiring.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubBatchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_subbatch_attempts_total",
		Help: "Total number of sub-batch HTTP attempts, including retries.",
	})

	SubBatchRetryWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncengine_subbatch_retry_wait_seconds_total",
		Help: "Cumulative backoff wait time spent retrying sub-batches.",
	})

	DesiredBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncengine_desired_batch_size",
		Help: "Current AIMD-adjusted desired sub-batch size.",
	})

	InFlightSubBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncengine_inflight_subbatches",
		Help: "Number of sub-batches currently executing concurrently.",
	})

	SubBatchLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncengine_subbatch_latency_seconds",
		Help:    "Wall latency of a completed sub-batch HTTP call.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_results_total",
		Help: "Per-item results classified by outcome.",
	}, []string{"outcome"})

	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncengine_sync_runs_total",
		Help: "Completed sync runs by terminal outcome.",
	}, []string{"outcome"})

	SyncRunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncengine_sync_run_duration_seconds",
		Help:    "Wall duration of a full sync run.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)
