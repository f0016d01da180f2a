// Package metrics provides internal metrics collection for the engine.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the engine's Prometheus instruments. A nil
// *Collector is valid and records nothing, so wiring stays optional.
type Collector struct {
	tasksTotal         *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	taskRetries        prometheus.Counter
	breakerTransitions *prometheus.CounterVec
	resourceInUse      *prometheus.GaugeVec
	storeOps           *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
}

// NewCollector registers the engine instruments on reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of tasks reaching a terminal state",
		}, []string{"status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock task execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		taskRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Total number of task retry attempts",
		}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"name", "to"}),
		resourceInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_in_use",
			Help:      "Currently allocated amount per resource kind",
		}, []string{"kind"}),
		storeOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_ops_total",
			Help:      "State store operations",
		}, []string{"op"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by outcome",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// ObserveTask records a terminal task outcome and its duration.
func (c *Collector) ObserveTask(task, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// ObserveRetry counts one retry attempt.
func (c *Collector) ObserveRetry() {
	if c == nil {
		return
	}
	c.taskRetries.Inc()
}

// ObserveBreakerTransition counts a circuit state change.
func (c *Collector) ObserveBreakerTransition(name, to string) {
	if c == nil {
		return
	}
	c.breakerTransitions.WithLabelValues(name, to).Inc()
}

// SetResourceInUse tracks current allocation for a resource kind.
func (c *Collector) SetResourceInUse(kind string, amount int64) {
	if c == nil {
		return
	}
	c.resourceInUse.WithLabelValues(kind).Set(float64(amount))
}

// ObserveStoreOp counts one state store operation.
func (c *Collector) ObserveStoreOp(op string) {
	if c == nil {
		return
	}
	c.storeOps.WithLabelValues(op).Inc()
}

// ObserveRun records a workflow run outcome and duration.
func (c *Collector) ObserveRun(success bool, duration time.Duration) {
	if c == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(duration.Seconds())
}
