// Package metrics exposes engine counters to Prometheus. It consumes task
// lifecycle events from the bus so the executor never blocks on metric
// recording.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskd/internal/eventbus"
	"taskd/internal/task"
)

type Collector struct {
	reg *prometheus.Registry

	executions *prometheus.CounterVec
	failures   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	maxRetries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	batchSize  prometheus.Histogram
	staleReset prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_executions_total",
			Help: "Task executions by type and outcome.",
		}, []string{"type", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_failures_total",
			Help: "Task failures by type and error type.",
		}, []string{"type", "error_type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_retries_total",
			Help: "Retries scheduled by task type.",
		}, []string{"type"}),
		maxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskd_max_retries_exceeded_total",
			Help: "Tasks that exhausted their retry budget.",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskd_execution_duration_seconds",
			Help:    "Attempt duration by task type.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskd_poll_batch_size",
			Help:    "Tasks fetched per poll cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		staleReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskd_stale_resets_total",
			Help: "Tasks reset by the stale-lock reaper.",
		}),
	}
	reg.MustRegister(c.executions, c.failures, c.retries, c.maxRetries, c.duration, c.batchSize, c.staleReset)
	return c
}

// Handler serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Observe consumes bus events until ctx is done.
func (c *Collector) Observe(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.record(e)
		}
	}
}

func (c *Collector) record(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeBatchFetched:
		if n, ok := e.Data.(int); ok {
			c.batchSize.Observe(float64(n))
		}
		return
	case eventbus.TypeStaleReset:
		if n, ok := e.Data.(int); ok {
			c.staleReset.Add(float64(n))
		}
		return
	}

	ev, ok := e.Data.(task.Event)
	if !ok {
		return
	}
	typ := string(ev.Type)

	switch e.Type {
	case eventbus.TypeTaskCompleted:
		c.executions.WithLabelValues(typ, "success").Inc()
		c.duration.WithLabelValues(typ).Observe(ev.Duration.Seconds())
	case eventbus.TypeTaskFailed, eventbus.TypeTaskDeadLetter:
		c.executions.WithLabelValues(typ, "failure").Inc()
		c.failures.WithLabelValues(typ, ev.ErrorType).Inc()
		c.duration.WithLabelValues(typ).Observe(ev.Duration.Seconds())
	case eventbus.TypeTaskRetry:
		c.executions.WithLabelValues(typ, "failure").Inc()
		c.failures.WithLabelValues(typ, ev.ErrorType).Inc()
		c.retries.WithLabelValues(typ).Inc()
		c.duration.WithLabelValues(typ).Observe(ev.Duration.Seconds())
	case eventbus.TypeTaskMaxRetries:
		c.executions.WithLabelValues(typ, "failure").Inc()
		c.failures.WithLabelValues(typ, ev.ErrorType).Inc()
		c.maxRetries.WithLabelValues(typ).Inc()
	case eventbus.TypeTaskExpired:
		c.executions.WithLabelValues(typ, "expired").Inc()
	}
}
