// Package metrics exposes Prometheus metrics for the slicing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

// Collector owns a private registry so several collectors can coexist in
// one process.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	unitsTotal        *prometheus.CounterVec
	unitDuration      *prometheus.HistogramVec
	engineDuration    prometheus.Histogram
	scaleRetriesTotal prometheus.Counter

	batchesTotal *prometheus.CounterVec
	batchFiles   prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a collector with metrics under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.unitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Files that reached a terminal status",
		},
		[]string{"status", "failure_kind"},
	)

	c.unitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_processing_seconds",
			Help:      "Time from dispatch to terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240, 300},
		},
		[]string{"status"},
	)

	c.engineDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Time spent inside the slicing engine for successful runs",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 240},
		},
	)

	c.scaleRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_retries_total",
			Help:      "Files that succeeded only after scaling from inches",
		},
	)

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches that reported completion",
		},
		[]string{"outcome"},
	)

	c.batchFiles = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_files",
			Help:      "Number of files per batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// FileFinished records a unit result.
func (c *Collector) FileFinished(_ string, r models.FileResult) {
	c.unitsTotal.WithLabelValues(string(r.Status), string(r.FailureKind)).Inc()
	c.unitDuration.WithLabelValues(string(r.Status)).Observe(float64(r.Timing.TotalMs) / 1000)
	if r.Succeeded() {
		c.engineDuration.Observe(float64(r.Timing.SliceMs) / 1000)
		if r.Scaled {
			c.scaleRetriesTotal.Inc()
		}
	}
}

// BatchFinished records a completed batch.
func (c *Collector) BatchFinished(rep models.BatchReport) {
	outcome := "ok"
	switch {
	case len(rep.Results) == 0:
		outcome = "empty"
	case rep.Failed == len(rep.Results):
		outcome = "failed"
	case rep.Failed > 0:
		outcome = "partial"
	}
	c.batchesTotal.WithLabelValues(outcome).Inc()
	c.batchFiles.Observe(float64(len(rep.Results)))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
