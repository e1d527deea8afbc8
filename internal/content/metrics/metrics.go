// Package metrics exports ingestion pipeline telemetry.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultNamespace = "bookshelf_ingest"

// Observer receives pipeline telemetry. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRun(format, outcome string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	ObserveAssetUpload(outcome string, bytes int64, d time.Duration)
	ObserveWarning(code string)
}

// PrometheusObserver records pipeline metrics as Prometheus collectors
type PrometheusObserver struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	uploads       *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	uploadLatency prometheus.Histogram
	warnings      *prometheus.CounterVec
}

// NewPrometheusObserver registers the pipeline collectors on reg, reusing collectors that are
// already registered under the same names.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	o := &PrometheusObserver{}
	if o.runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Ingestion runs by source format and outcome.",
	}, []string{"format", "outcome"})); err != nil {
		return nil, err
	}
	if o.runDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "End-to-end ingestion latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"format", "outcome"})); err != nil {
		return nil, err
	}
	if o.stageDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent per pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if o.uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_uploads_total",
		Help:      "Asset uploads to the content store by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_uploaded_bytes_total",
		Help:      "Bytes successfully uploaded to the content store.",
	})); err != nil {
		return nil, err
	}
	if o.uploadLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "asset_upload_duration_seconds",
		Help:      "Latency of single asset uploads including retries.",
		Buckets:   prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if o.warnings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warnings_total",
		Help:      "Non-fatal ingestion warnings by code.",
	}, []string{"code"})); err != nil {
		return nil, err
	}
	return o, nil
}

// PoolStats is the part of the upload worker pool exported as gauges
type PoolStats interface {
	Running() int
	Free() int
	Cap() int
}

// RegisterPool exports the occupancy of the upload worker pool
func RegisterPool(namespace string, reg prometheus.Registerer, pool PoolStats) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gauges := []struct {
		name, help string
		value      func() int
	}{
		{"pool_running_workers", "Upload workers currently running a task.", pool.Running},
		{"pool_free_workers", "Upload workers available for new tasks.", pool.Free},
		{"pool_capacity", "Upload worker pool capacity.", pool.Cap},
	}
	for _, g := range gauges {
		value := g.value
		if _, err := register(reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(value()) })); err != nil {
			return err
		}
	}
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register ingest metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) ObserveRun(format, outcome string, d time.Duration) {
	o.runs.WithLabelValues(format, outcome).Inc()
	o.runDuration.WithLabelValues(format, outcome).Observe(d.Seconds())
}

func (o *PrometheusObserver) ObserveStage(stage string, d time.Duration) {
	o.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (o *PrometheusObserver) ObserveAssetUpload(outcome string, bytes int64, d time.Duration) {
	o.uploads.WithLabelValues(outcome).Inc()
	o.uploadLatency.Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		o.uploadBytes.Add(float64(bytes))
	}
}

func (o *PrometheusObserver) ObserveWarning(code string) {
	o.warnings.WithLabelValues(code).Inc()
}

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// NopObserver discards everything
type NopObserver struct{}

func (NopObserver) ObserveRun(string, string, time.Duration) {}

func (NopObserver) ObserveStage(string, time.Duration) {}

func (NopObserver) ObserveAssetUpload(string, int64, time.Duration) {}

func (NopObserver) ObserveWarning(string) {}
