// Package metrics records reconstruction outcomes as Prometheus metrics and
// exports them in the node-exporter textfile format for batch jobs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels the terminal state of one reconstruction.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeMaxIter   Outcome = "max_iter"
	OutcomeFailed    Outcome = "failed"
)

// Recorder owns a private registry so independent batches never share
// counters.
type Recorder struct {
	registry *prometheus.Registry

	runs       *prometheus.CounterVec
	iterations prometheus.Histogram
	duration   prometheus.Histogram
	chiRatio   prometheus.Histogram
	factor     prometheus.Gauge
}

// NewRecorder creates a recorder with its metrics registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "musrmaxent_reconstructions_total",
			Help: "Reconstructions by terminal outcome",
		}, []string{"outcome"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "musrmaxent_iterations",
			Help:    "MaxEnt passes per reconstruction",
			Buckets: []float64{2, 5, 10, 20, 50, 100, 200, 500},
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "musrmaxent_reconstruction_duration_seconds",
			Help:    "Wall time of one reconstruction",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		chiRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "musrmaxent_chi_ratio",
			Help:    "Final chisq/chizer of successful reconstructions",
			Buckets: []float64{0.9, 0.99, 1.01, 1.1, 2, 10},
		}),
		factor: factory.NewGauge(prometheus.GaugeOpts{
			Name: "musrmaxent_sigma_factor",
			Help: "Uncertainty scale factor of the most recent reconstruction",
		}),
	}
}

// Observation is the summary of one finished reconstruction.
type Observation struct {
	Outcome    Outcome
	Iterations int
	Duration   time.Duration
	ChiRatio   float64
	Factor     float64
}

// Observe records one reconstruction. Failed runs only bump the counter.
func (r *Recorder) Observe(o Observation) {
	r.runs.WithLabelValues(string(o.Outcome)).Inc()
	r.duration.Observe(o.Duration.Seconds())
	if o.Outcome == OutcomeFailed {
		return
	}
	r.iterations.Observe(float64(o.Iterations))
	r.chiRatio.Observe(o.ChiRatio)
	r.factor.Set(o.Factor)
}

// Gatherer exposes the registry, for serving or inspection.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
