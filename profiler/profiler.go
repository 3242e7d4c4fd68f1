// Package profiler times the stages of a run (frame decode, ROI reduce) and
// keeps simple min/avg/max statistics for custom values.
package profiler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names recorded by the pipeline.
const (
	OpDecode = "decode"
	OpReduce = "reduce"
)

// DefaultMaxSamples bounds the sliding window kept per tracker.
const DefaultMaxSamples = 600

// Profiler collects operation timings and custom metric values. It is safe
// for concurrent use; a nil *Profiler discards everything.
type Profiler struct {
	mu         sync.Mutex
	startTime  time.Time
	maxSamples int

	customMetrics  map[string]*MetricTracker
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Options configures a Profiler.
type Options struct {
	// MaxSamples is the sliding window size per tracker (default: 600).
	MaxSamples int
}

// New creates a profiler.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A ready Profiler
func New(opts Options) *Profiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	return &Profiler{
		startTime:      time.Now(),
		maxSamples:     opts.MaxSamples,
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (p *Profiler) RecordMetric(name string, value float64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		p.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration adds one timing sample for name.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{minTime: d, maxTime: d}
		p.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, d)
	tracker.totalTime += d
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
	tracker.minTime = min(tracker.minTime, d)
	tracker.maxTime = max(tracker.maxTime, d)
}

// OperationStats is a point-in-time view of one operation's timings.
// Avg covers the sliding window; Min and Max cover every sample.
type OperationStats struct {
	Name  string
	Count int64
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// MetricStats is a point-in-time view of one custom metric.
type MetricStats struct {
	Name  string
	Count int64
	Avg   float64
	Min   float64
	Max   float64
}

// Snapshot holds the current statistics, sorted by name.
type Snapshot struct {
	Uptime     time.Duration
	Operations []OperationStats
	Metrics    []MetricStats
}

// Operation returns the stats recorded under name.
func (s Snapshot) Operation(name string) (OperationStats, bool) {
	for _, op := range s.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return OperationStats{}, false
}

// Snapshot returns the current profiling statistics.
func (p *Profiler) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{Uptime: time.Since(p.startTime)}
	for name, t := range p.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		snap.Operations = append(snap.Operations, OperationStats{
			Name:  name,
			Count: t.count,
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
		})
	}
	for name, m := range p.customMetrics {
		if len(m.values) == 0 {
			continue
		}
		snap.Metrics = append(snap.Metrics, MetricStats{
			Name:  name,
			Count: m.count,
			Avg:   m.sum / float64(len(m.values)),
			Min:   m.min,
			Max:   m.max,
		})
	}
	sort.Slice(snap.Operations, func(i, j int) bool { return snap.Operations[i].Name < snap.Operations[j].Name })
	sort.Slice(snap.Metrics, func(i, j int) bool { return snap.Metrics[i].Name < snap.Metrics[j].Name })
	return snap
}

// Report logs the current snapshot, one entry per operation and metric.
func (p *Profiler) Report(logger *zap.Logger) {
	if p == nil || logger == nil {
		return
	}
	snap := p.Snapshot()
	for _, op := range snap.Operations {
		logger.Info("operation timing",
			zap.String("operation", op.Name),
			zap.Int64("count", op.Count),
			zap.Duration("avg", op.Avg.Truncate(time.Microsecond)),
			zap.Duration("min", op.Min.Truncate(time.Microsecond)),
			zap.Duration("max", op.Max.Truncate(time.Microsecond)),
		)
	}
	for _, m := range snap.Metrics {
		logger.Info("metric",
			zap.String("metric", m.Name),
			zap.Int64("count", m.Count),
			zap.Float64("avg", m.Avg),
			zap.Float64("min", m.Min),
			zap.Float64("max", m.Max),
		)
	}
}
