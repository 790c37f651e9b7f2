// Package metrics exposes Prometheus collectors for the HTTP surface, the
// swap pipeline stages and the async job processor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swappilot"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Collector owns a dedicated registry so tests and embedded pipelines do not
// share global state.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	stageLatency  *prometheus.HistogramVec
	stageAttempts *prometheus.CounterVec
	stageFailures *prometheus.CounterVec

	outcomes       *prometheus.CounterVec
	outcomeLatency *prometheus.HistogramVec

	jobs *prometheus.CounterVec
}

// New builds a collector with Go runtime and process metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"handler", "method"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in a pipeline stage including retries.",
			Buckets:   latencyBuckets,
		}, []string{"stage"}),
		stageAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Attempts made per pipeline stage.",
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Terminal stage failures by failure code.",
		}, []string{"stage", "code"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_requests_total",
			Help:      "Swap requests by outcome and rejection reason.",
		}, []string{"outcome", "reason", "degraded"}),
		outcomeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_request_duration_seconds",
			Help:      "End to end pipeline latency.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Async swap jobs by terminal or retry status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests, c.httpErrors, c.httpLatency,
		c.stageLatency, c.stageAttempts, c.stageFailures,
		c.outcomes, c.outcomeLatency,
		c.jobs,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveStage records one finished pipeline stage. An empty code means the
// stage succeeded.
func (c *Collector) ObserveStage(stage, code string, attempts int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
	c.stageAttempts.WithLabelValues(stage).Add(float64(attempts))
	if code != "" {
		c.stageFailures.WithLabelValues(stage, code).Inc()
	}
}

// ObserveOutcome records the terminal response of one request.
func (c *Collector) ObserveOutcome(outcome, reason string, degraded bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome, reason, strconv.FormatBool(degraded)).Inc()
	c.outcomeLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveJob counts an async job status transition.
func (c *Collector) ObserveJob(status string) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(status).Inc()
}
