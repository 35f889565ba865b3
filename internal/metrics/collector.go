package metrics

import (
	"errors"
	"net/http"
	"time"

	"tiershift/internal/ledger"
	"tiershift/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	tasksTotal      *prometheus.CounterVec
	bytesTotal      *prometheus.CounterVec
	inflight        prometheus.Gauge
	duration        *prometheus.HistogramVec
	mismatches      prometheus.Counter
	progressTracker *progress.Tracker
}

// New creates a collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiershift_tasks_total",
				Help: "Total number of relocation tasks executed",
			},
			[]string{"phase", "status"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiershift_relocated_bytes_total",
				Help: "Total relation bytes successfully relocated",
			},
			[]string{"phase"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tiershift_inflight_tasks",
				Help: "Number of tasks currently executing",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tiershift_task_duration_seconds",
				Help:    "Time taken to execute one relocation task",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
			[]string{"phase"},
		),
		mismatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tiershift_mismatches_total",
				Help: "Structural mismatches found by verification",
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.tasksTotal, c.bytesTotal, c.inflight, c.duration, c.mismatches)
	return c
}

// TaskStarted marks one more task in flight
func (c *Collector) TaskStarted() {
	c.inflight.Inc()
}

// TaskSucceeded records a successful task and updates progress
func (c *Collector) TaskSucceeded(phase ledger.Phase, bytes int64, d time.Duration) {
	c.inflight.Dec()
	c.tasksTotal.WithLabelValues(phase.String(), "success").Inc()
	c.bytesTotal.WithLabelValues(phase.String()).Add(float64(bytes))
	c.duration.WithLabelValues(phase.String()).Observe(d.Seconds())
	c.progressTracker.AddSuccess(bytes)
}

// TaskFailed records a failed task and updates progress
func (c *Collector) TaskFailed(phase ledger.Phase, bytes int64, d time.Duration) {
	c.inflight.Dec()
	c.tasksTotal.WithLabelValues(phase.String(), "error").Inc()
	c.duration.WithLabelValues(phase.String()).Observe(d.Seconds())
	c.progressTracker.AddFailed(bytes)
}

// TaskInterrupted records a task cut short by cancellation
func (c *Collector) TaskInterrupted(phase ledger.Phase, d time.Duration) {
	c.inflight.Dec()
	c.tasksTotal.WithLabelValues(phase.String(), "interrupted").Inc()
	c.duration.WithLabelValues(phase.String()).Observe(d.Seconds())
}

// AddMismatches adds verification mismatches
func (c *Collector) AddMismatches(n int) {
	c.mismatches.Add(float64(n))
}

// StartPhase resets progress tracking for a phase
func (c *Collector) StartPhase(phase ledger.Phase, objects, bytes int64) {
	c.progressTracker.StartPhase(phase.String(), objects, bytes)
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// StartServer starts the metrics HTTP server. It blocks until the server
// stops and returns nil after a graceful shutdown.
func (c *Collector) StartServer(srv *http.Server) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv.Handler = mux

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}
