// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evergreenpress/republisher/internal/domain"
)

// Collector implements the engine observer interface and feeds Prometheus.
type Collector struct {
	batchesTotal  *prometheus.CounterVec
	itemsTotal    *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
}

// NewCollector creates and registers the collectors on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "republisher",
			Name:      "batches_total",
			Help:      "Batches executed, by trigger source and result.",
		}, []string{"trigger", "result"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "republisher",
			Name:      "items_total",
			Help:      "Item attempts, by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "republisher",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "republisher",
			Name:      "batch_size",
			Help:      "Candidate count per batch.",
			Buckets:   prometheus.LinearBuckets(0, 5, 11),
		}),
	}

	reg.MustRegister(c.batchesTotal, c.itemsTotal, c.batchDuration, c.batchSize)
	return c
}

// BatchStarted records the candidate count of a starting batch.
func (c *Collector) BatchStarted(_ domain.Trigger, candidates int) {
	c.batchSize.Observe(float64(candidates))
}

// ItemApplied counts a successful rewrite.
func (c *Collector) ItemApplied(_ *domain.Item, _ time.Time) {
	c.itemsTotal.WithLabelValues(string(domain.OutcomeSuccess)).Inc()
}

// ItemFailed counts a failed rewrite.
func (c *Collector) ItemFailed(_ *domain.Item, _ error) {
	c.itemsTotal.WithLabelValues(string(domain.OutcomeFailed)).Inc()
}

// BatchFinished records batch totals and duration.
func (c *Collector) BatchFinished(result *domain.BatchResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failed"
	}
	if result.DryRun {
		outcome = "dry_run"
	}
	c.batchesTotal.WithLabelValues(string(result.Trigger), outcome).Inc()
	c.batchDuration.Observe(result.Duration.Seconds())
}
