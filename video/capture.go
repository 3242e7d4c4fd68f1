package video

import (
	"io"
	"os"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Capture is a Source backed by an OpenCV VideoCapture.
type Capture struct {
	lifecycle

	path string
	vc   *gocv.VideoCapture
	meta Metadata
	opts options
}

// OpenFile opens a video file with OpenCV.
//
// Arguments:
//   - path: Path to the video (MP4/AVI/MOV/MKV/WMV/FLV or anything the local OpenCV build decodes).
//   - opts: Optional settings.
//
// Returns:
//   - *Capture: The open source. The caller must Close it.
//   - error: *OpenError if the file is missing, the container cannot be read or
//     no video stream is present.
func OpenFile(path string, opts ...Option) (*Capture, error) {
	o := applyOptions(opts)

	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, &OpenError{Path: path, Err: errors.New("decoder could not open the container")}
	}

	meta := Metadata{
		FrameCount: max(0, int(vc.Get(gocv.VideoCaptureFrameCount))),
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        vc.Get(gocv.VideoCaptureFPS),
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		_ = vc.Close()
		return nil, &OpenError{Path: path, Err: errors.New("no decodable video stream")}
	}

	o.logger.Debug("video opened", zap.String("path", path), zap.Stringer("metadata", meta))

	return &Capture{path: path, vc: vc, meta: meta, opts: o}, nil
}

// Metadata implements Source.
func (c *Capture) Metadata() Metadata {
	return c.meta
}

// Frames implements Source. Every traversal rewinds the capture to frame 0.
func (c *Capture) Frames() (Iterator, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	c.vc.Set(gocv.VideoCapturePosFrames, 0)
	it := &captureIterator{c: c, mat: gocv.NewMat()}
	logger := c.opts.logger.With(zap.String("path", c.path))
	it.reader = newFrameReader(captureGrabber{vc: c.vc, mat: &it.mat}, c.meta.FrameCount, c.opts.maxConsecutiveFailures, logger)
	return it, nil
}

// Close implements Source.
func (c *Capture) Close() error {
	if !c.markClosed() {
		return nil
	}
	return c.vc.Close()
}

type captureIterator struct {
	c      *Capture
	mat    gocv.Mat
	reader *frameReader
	closed bool
}

func (it *captureIterator) Next() (int, *images.Frame, error) {
	if it.closed {
		return it.reader.index, nil, io.EOF
	}
	if it.c.isClosed() {
		return it.reader.index, nil, ErrClosed
	}
	return it.reader.next()
}

func (it *captureIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.c.end()
	return it.mat.Close()
}

// grabber is the part of a decoder the frame reader drives.
type grabber interface {
	// grab decodes the next frame into dst. ok is false when the decoder
	// produced nothing; err reports a frame that could not be converted.
	grab(dst *images.Frame) (ok bool, err error)
	// seek positions the decoder at index and reports whether it got there.
	seek(index int) bool
}

type captureGrabber struct {
	vc  *gocv.VideoCapture
	mat *gocv.Mat
}

func (g captureGrabber) grab(dst *images.Frame) (bool, error) {
	if ok := g.vc.Read(g.mat); !ok || g.mat.Empty() {
		return false, nil
	}
	return true, images.FrameFromMat(*g.mat, dst)
}

func (g captureGrabber) seek(index int) bool {
	g.vc.Set(gocv.VideoCapturePosFrames, float64(index))
	return int(g.vc.Get(gocv.VideoCapturePosFrames)) >= index
}

type readFailure struct {
	index int
	cause error
}

// frameReader classifies decoder reads. Unreadable frames are held back until
// a later frame decodes, so a run of failures that ends the stream is reported
// as io.EOF instead of as skips. Container frame counts are estimates and
// often overstate the decodable frames.
type frameReader struct {
	g           grabber
	frame       images.Frame
	count       int
	maxFailures int
	logger      *zap.Logger

	index     int
	queue     []readFailure
	held      bool
	heldIndex int
	done      bool
}

func newFrameReader(g grabber, count, maxFailures int, logger *zap.Logger) *frameReader {
	if maxFailures < 1 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &frameReader{g: g, count: count, maxFailures: maxFailures, logger: logger}
}

func (r *frameReader) next() (int, *images.Frame, error) {
	if len(r.queue) > 0 {
		f := r.queue[0]
		r.queue = r.queue[1:]
		return f.index, nil, &FrameDecodeError{Index: f.index, Err: f.cause}
	}
	if r.held {
		r.held = false
		return r.heldIndex, &r.frame, nil
	}
	if r.done {
		return r.index, nil, io.EOF
	}

	var failed []readFailure
	for {
		i := r.index
		r.index++

		ok, err := r.g.grab(&r.frame)
		if ok && err == nil {
			if len(failed) == 0 {
				return i, &r.frame, nil
			}
			r.queue = failed[1:]
			r.held, r.heldIndex = true, i
			return failed[0].index, nil, &FrameDecodeError{Index: failed[0].index, Err: failed[0].cause}
		}

		// A failed read past the reported frame count is the end of the stream.
		if !ok && (r.count <= 0 || i >= r.count) {
			return r.end(i, failed)
		}
		cause := err
		if cause == nil {
			cause = errors.New("decoder returned no frame")
		}
		failed = append(failed, readFailure{index: i, cause: cause})
		r.logger.Debug("unreadable frame", zap.Int("frame", i), zap.Error(cause))

		if !r.g.seek(r.index) {
			return r.end(i, failed)
		}
		if len(failed) >= r.maxFailures {
			r.done = true
			return i, nil, &DecodeFatalError{
				Index: i,
				Err:   errors.Wrapf(cause, "%d consecutive frames unreadable", len(failed)),
			}
		}
	}
}

// end finishes the stream at index, dropping the trailing failures: they
// belong to frames the container announced but never stored.
func (r *frameReader) end(index int, failed []readFailure) (int, *images.Frame, error) {
	r.done = true
	if len(failed) > 0 {
		r.logger.Debug("stream ended before the reported frame count",
			zap.Int("frame", failed[0].index), zap.Int("reported", r.count))
		index = failed[0].index
	}
	return index, nil, io.EOF
}
