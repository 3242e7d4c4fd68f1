// Package metrics exposes run counters and gauges to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the collectors updated by the pipeline. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	FramesProcessed prometheus.Counter
	FramesSkipped   prometheus.Counter
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	LastIntensity   prometheus.Gauge
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roi_frames_processed_total",
			Help: "Total number of frames reduced to an ROI intensity",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roi_frames_skipped_total",
			Help: "Total number of frames skipped after a transient decode failure",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roi_runs_total",
			Help: "Total number of pipeline runs, by final status",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roi_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}),
		LastIntensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roi_last_intensity",
			Help: "Mean ROI intensity of the most recently processed frame",
		}),
	}

	for _, c := range []prometheus.Collector{r.FramesProcessed, r.FramesSkipped, r.Runs, r.RunDuration, r.LastIntensity} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Frame records one processed frame and its intensity.
func (r *Recorder) Frame(value float64) {
	if r == nil {
		return
	}
	r.FramesProcessed.Inc()
	r.LastIntensity.Set(value)
}

// Skip records one skipped frame.
func (r *Recorder) Skip() {
	if r == nil {
		return
	}
	r.FramesSkipped.Inc()
}

// Run records a finished run.
func (r *Recorder) Run(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(status).Inc()
	r.RunDuration.Observe(elapsed.Seconds())
}
