// Package metrics turns progress events into Prometheus metrics for a run and
// can write them in the text exposition format for the node exporter's textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tanq16/grabber/internal/progress"
)

// Recorder owns a private registry so several recorders (and tests) never collide.
type Recorder struct {
	registry *prometheus.Registry

	downloadsTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	bytesTotal      prometheus.Counter
	inFlight        prometheus.Gauge
	durationSeconds *prometheus.HistogramVec
	fileSizeBytes   prometheus.Histogram
}

func New(namespace string) *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.downloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Downloads finished, by status.",
	}, []string{"status"})
	r.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Failed downloads, by error kind.",
	}, []string{"kind"})
	r.retriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Attempts retried after a transient failure.",
	})
	r.bytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "published_bytes_total",
		Help:      "Bytes published by successful downloads.",
	})
	r.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight",
		Help:      "Downloads started and not yet finished.",
	})
	r.durationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Time from start to outcome, retries included.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})
	r.fileSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "file_size_bytes",
		Help:      "Size of published files.",
		Buckets:   []float64{1024, 10240, 102400, 1048576, 10485760, 104857600, 1073741824},
	})
	r.registry.MustRegister(
		r.downloadsTotal,
		r.errorsTotal,
		r.retriesTotal,
		r.bytesTotal,
		r.inFlight,
		r.durationSeconds,
		r.fileSizeBytes,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Publish records one event. Recorder is itself a progress.Sink.
func (r *Recorder) Publish(ev progress.Event) {
	switch ev.Type {
	case progress.EventStarted:
		r.inFlight.Inc()
	case progress.EventRetrying:
		r.retriesTotal.Inc()
	case progress.EventFinished:
		r.inFlight.Dec()
		if ev.Outcome == nil {
			return
		}
		status := "success"
		if !ev.Outcome.OK() {
			status = "error"
			r.errorsTotal.WithLabelValues(ev.Outcome.Kind().String()).Inc()
		} else {
			r.bytesTotal.Add(float64(ev.Outcome.Bytes))
			r.fileSizeBytes.Observe(float64(ev.Outcome.Bytes))
		}
		r.downloadsTotal.WithLabelValues(status).Inc()
		r.durationSeconds.WithLabelValues(status).Observe(ev.Outcome.Duration.Seconds())
	}
}

// Watch records every event the aggregator publishes from now on. The returned
// function blocks until the aggregator is closed and all its events are recorded.
func (r *Recorder) Watch(agg *progress.Aggregator) (wait func()) {
	events, _ := agg.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			r.Publish(ev)
		}
	}()
	return func() { <-done }
}

func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("error writing metrics to %s: %w", path, err)
	}
	return nil
}
