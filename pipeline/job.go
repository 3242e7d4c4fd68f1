package pipeline

import (
	"context"

	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/results"
	"github.com/nvr-ai/go-roi/video"
)

// Job is a Run executing on a background goroutine.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}

	rs  *results.ResultSet
	err error
}

// Start runs the pipeline on a new goroutine and returns immediately.
//
// Example:
//
//	job := p.Start(ctx, src, roi)
//	defer job.Cancel()
//	rs, err := job.Wait()
func (p *Pipeline) Start(ctx context.Context, src video.Source, roi images.ROI) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(j.done)
		defer cancel()
		j.rs, j.err = p.Run(ctx, src, roi)
	}()
	return j
}

// Cancel requests cancellation. The run stops before its next frame.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the run has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the run returns and yields its result.
func (j *Job) Wait() (*results.ResultSet, error) {
	<-j.done
	return j.rs, j.err
}
