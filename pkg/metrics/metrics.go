// Package metrics exposes engine observability through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// breaker state gauge values
const (
	stateClosed   = 0
	stateOpen     = 1
	stateHalfOpen = 2
)

// Collector gathers engine metrics. All methods are safe for concurrent
// use; the underlying Prometheus primitives are atomic.
type Collector struct {
	itemsProcessed prometheus.Counter
	itemsFailed    prometheus.Counter
	runs           *prometheus.CounterVec

	quotaRejections *prometheus.CounterVec
	quotaRemaining  *prometheus.GaugeVec

	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec

	runDuration prometheus.Histogram
}

// NewCollector creates a collector and registers its metrics. A nil
// registerer uses the Prometheus default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stint_items_processed_total",
			Help: "Total number of work items completed successfully",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stint_items_failed_total",
			Help: "Total number of work items that failed fatally",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stint_runs_total",
			Help: "Total number of bounded runs by outcome",
		}, []string{"outcome"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stint_quota_rejections_total",
			Help: "Total number of spends rejected by a budget",
		}, []string{"budget"}),
		quotaRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stint_quota_remaining",
			Help: "Unspent units in the budget's current window",
		}, []string{"budget"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stint_breaker_transitions_total",
			Help: "Total number of circuit state transitions",
		}, []string{"dependency", "to"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stint_breaker_state",
			Help: "Circuit state per dependency (0 closed, 1 open, 2 half-open)",
		}, []string{"dependency"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stint_run_duration_seconds",
			Help:    "Duration of bounded runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.itemsProcessed,
		c.itemsFailed,
		c.runs,
		c.quotaRejections,
		c.quotaRemaining,
		c.breakerTransitions,
		c.breakerState,
		c.runDuration,
	)
	return c
}

// RecordItemProcessed counts one successfully completed item.
func (c *Collector) RecordItemProcessed() {
	c.itemsProcessed.Inc()
}

// RecordItemFailed counts one fatally failed item.
func (c *Collector) RecordItemFailed() {
	c.itemsFailed.Inc()
}

// RecordRun counts one bounded run and its duration.
func (c *Collector) RecordRun(outcome string, seconds float64) {
	c.runs.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(seconds)
}

// RecordQuotaRejection counts one spend rejected by the budget.
func (c *Collector) RecordQuotaRejection(budget string) {
	c.quotaRejections.WithLabelValues(budget).Inc()
}

// SetQuotaRemaining publishes the budget's unspent units.
func (c *Collector) SetQuotaRemaining(budget string, remaining int64) {
	c.quotaRemaining.WithLabelValues(budget).Set(float64(remaining))
}

// RecordBreakerTransition counts a circuit transition and updates the
// state gauge.
func (c *Collector) RecordBreakerTransition(dependency, to string) {
	c.breakerTransitions.WithLabelValues(dependency, to).Inc()
	switch to {
	case "open":
		c.breakerState.WithLabelValues(dependency).Set(stateOpen)
	case "half_open":
		c.breakerState.WithLabelValues(dependency).Set(stateHalfOpen)
	default:
		c.breakerState.WithLabelValues(dependency).Set(stateClosed)
	}
}

// Handler returns the HTTP handler serving the default registry in
// Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
