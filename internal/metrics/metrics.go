// Package metrics exposes Prometheus collectors for mapping executions
// and retry sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/retry"
)

// Metrics bundles the collectors. It satisfies mapping.BatchObserver so
// it can be handed straight to the engine.
type Metrics struct {
	batchesTotal  *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	batchDuration prometheus.Histogram

	sweepsTotal     prometheus.Counter
	sweepItemsTotal *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
}

// New registers the collectors with reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_bridge_mapping_batches_total",
			Help: "Mapping batch executions by rule set and outcome.",
		}, []string{"rule_set", "outcome"}),
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_bridge_mapping_records_total",
			Help: "Records processed by mapping executions.",
		}, []string{"rule_set", "result"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payroll_bridge_mapping_batch_duration_seconds",
			Help:    "Wall-clock duration of mapping batch executions.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		sweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payroll_bridge_retry_sweeps_total",
			Help: "Completed retry sweeps.",
		}),
		sweepItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_bridge_retry_items_total",
			Help: "Items handled by retry sweeps, by outcome.",
		}, []string{"outcome"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "payroll_bridge_error_queue_depth",
			Help: "Error queue items by status, as of the last stats refresh.",
		}, []string{"status"}),
	}
}

// ObserveBatch records one engine execution.
func (m *Metrics) ObserveBatch(ruleSetID string, batch mapping.Metrics) {
	outcome := "success"
	if batch.FailedRecords > 0 {
		outcome = "partial"
	}
	if batch.SuccessfulRecords == 0 && batch.FailedRecords > 0 {
		outcome = "failed"
	}
	m.batchesTotal.WithLabelValues(ruleSetID, outcome).Inc()
	m.recordsTotal.WithLabelValues(ruleSetID, "success").Add(float64(batch.SuccessfulRecords))
	m.recordsTotal.WithLabelValues(ruleSetID, "failed").Add(float64(batch.FailedRecords))
	m.batchDuration.Observe(float64(batch.ProcessingTimeMs) / 1000)
}

// ObserveSweep records one retry sweep.
func (m *Metrics) ObserveSweep(result retry.SweepResult) {
	m.sweepsTotal.Inc()
	m.sweepItemsTotal.WithLabelValues("succeeded").Add(float64(result.Succeeded))
	m.sweepItemsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	m.sweepItemsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
}

// SetQueueDepth publishes per-status queue counts.
func (m *Metrics) SetQueueDepth(byStatus map[string]int) {
	for status, n := range byStatus {
		m.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}
