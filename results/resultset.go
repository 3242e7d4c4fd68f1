// Package results holds the intensity time series produced by a run, its
// derived statistics and its export formats.
package results

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/video"
)

// Status is the lifecycle state of a ResultSet.
type Status int

const (
	// StatusRunning accepts appends.
	StatusRunning Status = iota
	// StatusCompleted is a frozen set from a run that read every frame.
	StatusCompleted
	// StatusCancelled is a frozen set from a run stopped by its caller.
	StatusCancelled
	// StatusFailed is a frozen set from a run aborted by a fatal error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Frozen reports whether the status is terminal.
func (s Status) Frozen() bool {
	return s != StatusRunning
}

// InvalidStateError reports an operation that is not allowed in the current state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// Sample is the intensity of one processed frame.
type Sample struct {
	FrameIndex int     `json:"frame" yaml:"frame"`
	Value      float64 `json:"intensity" yaml:"intensity"`
}

// Skip records a frame that could not be decoded and is missing from the series.
type Skip struct {
	FrameIndex int    `json:"frame" yaml:"frame"`
	Reason     string `json:"reason" yaml:"reason"`
}

// Statistics summarises a frozen series. Every field is NaN when the series is empty.
type Statistics struct {
	Count int     `json:"count" yaml:"count"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Mean  float64 `json:"mean" yaml:"mean"`
	// ContrastRatio is (max-min)/max, NaN when max is zero.
	ContrastRatio float64 `json:"contrast_ratio" yaml:"contrast_ratio"`
	// RelativeSwingPercent is (max-min)/min*100, NaN when min is zero. Older
	// Kerr-contrast plots reported this figure as "contrast ratio".
	RelativeSwingPercent float64 `json:"relative_swing_percent" yaml:"relative_swing_percent"`
}

// ResultSet is the ordered intensity series of one run.
//
// It has exactly one writer, the run that created it, and may be read from
// any goroutine. It starts in StatusRunning and is frozen by Freeze or Finish.
type ResultSet struct {
	id      string
	mu      sync.RWMutex
	roi     images.ROI
	meta    video.Metadata
	status  Status
	err     error
	samples []Sample
	skips   []Skip

	statsOnce sync.Once
	stats     Statistics
}

// New creates an empty, running result set for a run over roi.
func New(roi images.ROI, meta video.Metadata) *ResultSet {
	capacity := 0
	if meta.FrameCount > 0 && meta.FrameCount < 1<<20 {
		capacity = meta.FrameCount
	}
	return &ResultSet{
		id:      uuid.New().String(),
		roi:     roi,
		meta:    meta,
		samples: make([]Sample, 0, capacity),
	}
}

// ID returns the random identifier of the run that produced the set.
func (r *ResultSet) ID() string { return r.id }

// ROI returns the region the series was measured over.
func (r *ResultSet) ROI() images.ROI { return r.roi }

// Metadata returns the metadata of the source video.
func (r *ResultSet) Metadata() video.Metadata { return r.meta }

// Append adds a sample. Frame indices must be strictly increasing.
func (r *ResultSet) Append(s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return &InvalidStateError{Op: "append", State: r.status.String()}
	}
	if n := len(r.samples); n > 0 && s.FrameIndex <= r.samples[n-1].FrameIndex {
		return fmt.Errorf("append frame %d: not after frame %d", s.FrameIndex, r.samples[n-1].FrameIndex)
	}
	r.samples = append(r.samples, s)
	return nil
}

// RecordSkip adds an entry to the skip report.
func (r *ResultSet) RecordSkip(s Skip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return &InvalidStateError{Op: "record skip", State: r.status.String()}
	}
	r.skips = append(r.skips, s)
	return nil
}

// Freeze makes the set read-only. It is idempotent; a running set becomes
// StatusCompleted, an already frozen set keeps its status.
func (r *ResultSet) Freeze() {
	r.Finish(StatusCompleted, nil)
}

// Finish freezes the set with a terminal status and an optional failure
// reason. Only the first call has an effect.
func (r *ResultSet) Finish(status Status, err error) {
	if !status.Frozen() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Frozen() {
		return
	}
	r.status = status
	r.err = err
}

// Status returns the current lifecycle state.
func (r *ResultSet) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Err returns the error that stopped a failed run, if any.
func (r *ResultSet) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Len returns the number of samples.
func (r *ResultSet) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Samples returns a copy of the series.
func (r *ResultSet) Samples() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sample(nil), r.samples...)
}

// Values returns the intensity values in frame order.
func (r *ResultSet) Values() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(r.samples))
	for i, s := range r.samples {
		out[i] = s.Value
	}
	return out
}

// Skips returns a copy of the skip report.
func (r *ResultSet) Skips() []Skip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Skip(nil), r.skips...)
}

// frozenSamples returns the sample slice of a frozen set. The slice is never
// written again once frozen, so it can be read without the lock.
func (r *ResultSet) frozenSamples(op string) ([]Sample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.status.Frozen() {
		return nil, &InvalidStateError{Op: op, State: r.status.String()}
	}
	return r.samples, nil
}

// Statistics returns min, max, mean and contrast of the frozen series. It is
// computed on first use and cached.
func (r *ResultSet) Statistics() (Statistics, error) {
	samples, err := r.frozenSamples("statistics")
	if err != nil {
		return Statistics{}, err
	}
	r.statsOnce.Do(func() {
		r.stats = computeStatistics(samples)
	})
	return r.stats, nil
}

func computeStatistics(samples []Sample) Statistics {
	nan := math.NaN()
	st := Statistics{Count: len(samples), Min: nan, Max: nan, Mean: nan, ContrastRatio: nan, RelativeSwingPercent: nan}
	if len(samples) == 0 {
		return st
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, s := range samples {
		lo = math.Min(lo, s.Value)
		hi = math.Max(hi, s.Value)
		sum += s.Value
	}
	st.Min, st.Max, st.Mean = lo, hi, sum/float64(len(samples))
	if hi != 0 {
		st.ContrastRatio = (hi - lo) / hi
	}
	if lo != 0 {
		st.RelativeSwingPercent = (hi - lo) / lo * 100
	}
	return st
}

// Normalized returns the series rescaled to [0, 1] by (v-min)/(max-min). A flat
// series normalizes to all zeros.
func (r *ResultSet) Normalized() ([]float64, error) {
	st, err := r.Statistics()
	if err != nil {
		return nil, err
	}
	samples, _ := r.frozenSamples("normalized")

	out := make([]float64, len(samples))
	span := st.Max - st.Min
	if span == 0 {
		return out, nil
	}
	for i, s := range samples {
		out[i] = (s.Value - st.Min) / span
	}
	return out, nil
}
