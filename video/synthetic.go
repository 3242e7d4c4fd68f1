package video

import (
	"io"
	"sync/atomic"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
)

// FillFunc paints frame index into frame. The frame arrives zeroed with the
// source dimensions.
type FillFunc func(index int, frame *images.Frame)

// UniformFill paints every pixel of frame i with values[i].
func UniformFill(values ...uint8) FillFunc {
	return func(index int, frame *images.Frame) {
		if index < len(values) {
			frame.Fill(values[index])
		}
	}
}

// Synthetic is an in-memory Source. It generates frames on demand, so long
// sequences cost no memory, and it can inject decode failures for testing.
type Synthetic struct {
	lifecycle

	meta      Metadata
	channels  int
	fill      FillFunc
	transient map[int]bool
	fatalAt   int
	decodable int
	onRead    func(index int)
	releases  atomic.Int32
}

// SyntheticOption configures a Synthetic source.
type SyntheticOption func(*Synthetic)

// WithTransientFailure makes the given frame indices fail with a *FrameDecodeError.
func WithTransientFailure(indices ...int) SyntheticOption {
	return func(s *Synthetic) {
		for _, i := range indices {
			s.transient[i] = true
		}
	}
}

// WithFatalFailure makes the stream fail with a *DecodeFatalError at index.
func WithFatalFailure(index int) SyntheticOption {
	return func(s *Synthetic) { s.fatalAt = index }
}

// WithDecodableFrames ends the stream after n frames even though the metadata
// reports more.
func WithDecodableFrames(n int) SyntheticOption {
	return func(s *Synthetic) { s.decodable = n }
}

// WithChannels sets the number of samples per pixel (default 1).
func WithChannels(n int) SyntheticOption {
	return func(s *Synthetic) { s.channels = n }
}

// WithReadHook calls fn before each frame is produced.
func WithReadHook(fn func(index int)) SyntheticOption {
	return func(s *Synthetic) { s.onRead = fn }
}

// NewSynthetic creates a synthetic source described by meta.
func NewSynthetic(meta Metadata, fill FillFunc, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		meta:      meta,
		channels:  1,
		fill:      fill,
		transient: make(map[int]bool),
		fatalAt:   -1,
		decodable: meta.FrameCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewUniform creates a width x height source with one frame per value, every
// pixel of frame i set to values[i].
func NewUniform(width, height int, values []uint8, opts ...SyntheticOption) *Synthetic {
	meta := Metadata{FrameCount: len(values), Width: width, Height: height, FPS: 30}
	return NewSynthetic(meta, UniformFill(values...), opts...)
}

// Releases reports how many times the underlying resource was released.
func (s *Synthetic) Releases() int {
	return int(s.releases.Load())
}

// Metadata implements Source.
func (s *Synthetic) Metadata() Metadata {
	return s.meta
}

// Frames implements Source.
func (s *Synthetic) Frames() (Iterator, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	return &syntheticIterator{s: s, frame: images.NewFrame(s.meta.Width, s.meta.Height, s.channels)}, nil
}

// Close implements Source.
func (s *Synthetic) Close() error {
	if s.markClosed() {
		s.releases.Add(1)
	}
	return nil
}

type syntheticIterator struct {
	s      *Synthetic
	frame  *images.Frame
	index  int
	done   bool
	closed bool
}

func (it *syntheticIterator) Next() (int, *images.Frame, error) {
	if it.closed || it.done || it.index >= it.s.decodable {
		return it.index, nil, io.EOF
	}
	if it.s.isClosed() {
		return it.index, nil, ErrClosed
	}

	i := it.index
	it.index++
	if it.s.onRead != nil {
		it.s.onRead(i)
	}

	switch {
	case i == it.s.fatalAt:
		it.done = true
		return i, nil, &DecodeFatalError{Index: i, Err: errors.New("synthetic stream corruption")}
	case it.s.transient[i]:
		return i, nil, &FrameDecodeError{Index: i, Err: errors.New("synthetic frame corruption")}
	}

	it.frame.Fill(0)
	if it.s.fill != nil {
		it.s.fill(i, it.frame)
	}
	return i, it.frame, nil
}

func (it *syntheticIterator) Close() error {
	if !it.closed {
		it.closed = true
		it.s.end()
	}
	return nil
}
