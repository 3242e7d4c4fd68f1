// Package pipeline - Frame-by-frame ROI intensity extraction.
//
// A Pipeline pulls frames from a video.Source in order, reduces the ROI of each
// frame to one intensity value and appends it to a results.ResultSet:
//
//	Source ──Next()──▶ Frame ──Reducer──▶ value ──Append──▶ ResultSet
//	                     │                  │
//	                 skip report       OnProgress
//
// A run moves through Idle -> Running -> {Completed, Cancelled, Failed}. It is
// cancelled through its context, which is checked once before every frame.
// Callbacks run synchronously on the goroutine executing Run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/intensity"
	"github.com/nvr-ai/go-roi/metrics"
	"github.com/nvr-ai/go-roi/profiler"
	"github.com/nvr-ai/go-roi/results"
	"github.com/nvr-ai/go-roi/video"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// InvalidStateError reports a Run or Reset that the current state forbids.
type InvalidStateError = results.InvalidStateError

// State is the lifecycle state of a Pipeline.
type State int

const (
	// StateIdle accepts Run.
	StateIdle State = iota
	// StateRunning is set for the duration of Run.
	StateRunning
	// StateCompleted means every decodable frame was processed.
	StateCompleted
	// StateCancelled means the context was done before the stream ended.
	StateCancelled
	// StateFailed means the ROI was rejected or the stream broke.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ProgressEvent describes the frame just processed.
type ProgressEvent struct {
	// FramesDone is the 1-based position of the frame in the stream.
	FramesDone int
	// FramesTotal is the frame count reported by the source, 0 if unknown.
	FramesTotal int
	// Value is the intensity of the frame.
	Value float64
	// RunID identifies the result set the frame was appended to.
	RunID string
}

// Options configures a Pipeline. The zero value is usable.
type Options struct {
	// Reducer computes the per-frame value (default: intensity.MeanReducer).
	Reducer intensity.Reducer
	// OnProgress is called after every ProgressEvery processed frames and
	// after the last one.
	OnProgress func(ProgressEvent)
	// OnSkip is called for every frame lost to a transient decode error.
	OnSkip func(results.Skip)
	// ProgressEvery throttles OnProgress (default: 1).
	ProgressEvery int
	// Logger receives run and skip events (default: no-op).
	Logger *zap.Logger
	// Metrics is updated per frame and per run when set.
	Metrics *metrics.Recorder
	// Profiler times decode and reduce when set.
	Profiler *profiler.Profiler
}

// Pipeline runs one extraction at a time. It is safe to call State from any
// goroutine while Run executes.
type Pipeline struct {
	opts Options

	mu    sync.Mutex
	state State
}

// New creates an idle pipeline.
//
// Arguments:
// - opts: Reducer, callbacks and instrumentation; zero fields get defaults
//
// Returns:
// - A Pipeline in StateIdle
func New(opts Options) *Pipeline {
	if opts.Reducer == nil {
		opts.Reducer = intensity.MeanReducer{}
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{opts: opts}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reset returns a finished pipeline to StateIdle so it can run again.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		return &InvalidStateError{Op: "reset", State: p.state.String()}
	}
	p.state = StateIdle
	return nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run extracts the ROI intensity of every frame of src.
//
// The ROI is validated against the source dimensions before any frame is
// read; a rejected ROI fails the run without a ResultSet. The source stays
// open and belongs to the caller; the frame iterator is always closed.
//
// Arguments:
// - ctx: Cancels the run between frames
// - src: The frame source
// - roi: The region in source pixel coordinates
//
// Returns:
// - The frozen ResultSet: Completed, Cancelled (nil error) or Failed
// - *images.OutOfBoundsError / *images.EmptyRegionError for a bad ROI,
//   *video.DecodeFatalError when the stream breaks (with partial results),
//   *InvalidStateError when the pipeline is not idle
func (p *Pipeline) Run(ctx context.Context, src video.Source, roi images.ROI) (*results.ResultSet, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return nil, &InvalidStateError{Op: "run", State: state.String()}
	}
	p.state = StateRunning
	p.mu.Unlock()

	start := time.Now()
	meta := src.Metadata()
	log := p.opts.Logger.With(zap.Stringer("roi", roi), zap.Stringer("video", meta))

	roi, err := roi.Validate(meta.Width, meta.Height)
	if err != nil {
		log.Error("roi rejected", zap.Error(err))
		p.finish(StateFailed, start)
		return nil, err
	}

	it, err := src.Frames()
	if err != nil {
		log.Error("open frame traversal", zap.Error(err))
		p.finish(StateFailed, start)
		return nil, errors.Wrap(err, "open frame traversal")
	}
	defer it.Close()

	rs := results.New(roi, meta)
	log = log.With(zap.String("run_id", rs.ID()))
	log.Info("run started")
	state, runErr := p.process(ctx, it, rs, roi, log)

	switch state {
	case StateCompleted:
		rs.Finish(results.StatusCompleted, nil)
	case StateCancelled:
		rs.Finish(results.StatusCancelled, nil)
	default:
		rs.Finish(results.StatusFailed, runErr)
	}
	elapsed := p.finish(state, start)

	fields := []zap.Field{
		zap.String("status", state.String()),
		zap.Int("samples", rs.Len()),
		zap.Int("skipped", len(rs.Skips())),
		zap.Duration("elapsed", elapsed),
	}
	if runErr != nil {
		log.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("run finished", fields...)
	}
	return rs, runErr
}

func (p *Pipeline) finish(state State, start time.Time) time.Duration {
	elapsed := time.Since(start)
	p.setState(state)
	p.opts.Metrics.Run(state.String(), elapsed)
	return elapsed
}

// process drives the iterator until the stream ends, the context is done or
// a fatal error occurs.
func (p *Pipeline) process(ctx context.Context, it video.Iterator, rs *results.ResultSet, roi images.ROI, log *zap.Logger) (State, error) {
	var (
		total     = rs.Metadata().FrameCount
		processed int
		pending   *ProgressEvent
	)

	for {
		if ctx.Err() != nil {
			log.Info("run cancelled", zap.Int("processed", processed))
			return StateCancelled, nil
		}

		stop := p.opts.Profiler.StartOperation(profiler.OpDecode)
		index, frame, err := it.Next()
		stop()

		if err != nil {
			if errors.Is(err, io.EOF) {
				if pending != nil {
					p.progress(*pending)
				}
				return StateCompleted, nil
			}

			var decodeErr *video.FrameDecodeError
			if errors.As(err, &decodeErr) {
				skip := results.Skip{FrameIndex: index, Reason: err.Error()}
				if err := rs.RecordSkip(skip); err != nil {
					return StateFailed, err
				}
				p.opts.Metrics.Skip()
				log.Warn("frame skipped", zap.Int("frame", index), zap.Error(err))
				if p.opts.OnSkip != nil {
					p.opts.OnSkip(skip)
				}
				continue
			}

			var fatal *video.DecodeFatalError
			if errors.As(err, &fatal) {
				return StateFailed, fatal
			}
			return StateFailed, &video.DecodeFatalError{Index: index, Err: err}
		}

		stop = p.opts.Profiler.StartOperation(profiler.OpReduce)
		value, err := p.opts.Reducer.Reduce(frame, roi)
		stop()
		if err != nil {
			return StateFailed, &video.DecodeFatalError{Index: index, Err: errors.Wrap(err, "reduce frame")}
		}
		if err := rs.Append(results.Sample{FrameIndex: index, Value: value}); err != nil {
			return StateFailed, &video.DecodeFatalError{Index: index, Err: err}
		}
		p.opts.Metrics.Frame(value)
		p.opts.Profiler.RecordMetric("intensity", value)
		processed++

		event := ProgressEvent{FramesDone: index + 1, FramesTotal: total, Value: value, RunID: rs.ID()}
		if processed%p.opts.ProgressEvery == 0 || event.FramesDone == total {
			pending = nil
			p.progress(event)
		} else {
			pending = &event
		}
	}
}

func (p *Pipeline) progress(e ProgressEvent) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(e)
	}
}
