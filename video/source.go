// Package video - Sequential frame access over external video decoders.
//
// A Source wraps one decoder handle. Frames are read in strictly increasing
// index order through an Iterator; only one Iterator may be open per Source at
// a time. Backends:
//
//	┌──────────────────┬──────────────────────────────────────────┐
//	│ OpenFile         │ OpenCV VideoCapture (gocv)               │
//	│ OpenImageSequence│ numbered image files decoded with gocv   │
//	│ OpenFFmpeg       │ ffprobe metadata + ffmpeg rawvideo pipe  │
//	│ NewSynthetic     │ in-memory frames with failure injection  │
//	└──────────────────┴──────────────────────────────────────────┘
//
// Read errors are classified: *FrameDecodeError means a single frame was lost
// and reading may continue; *DecodeFatalError means the stream cannot be read
// any further. io.EOF marks the normal end of the stream.
package video

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxConsecutiveFailures is the number of consecutive unreadable frames
// after which a decoder is considered broken.
const DefaultMaxConsecutiveFailures = 5

// SupportedExtensions lists the container extensions accepted by the file backends.
var SupportedExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv"}

var (
	// ErrTraversalActive is returned by Frames while another Iterator is still open.
	ErrTraversalActive = errors.New("video: a frame traversal is already active")
	// ErrClosed is returned when a closed Source is used.
	ErrClosed = errors.New("video: source is closed")
)

// Metadata describes a decoded stream.
type Metadata struct {
	// FrameCount is the number of frames the container reports. It is best
	// effort: fewer frames may actually decode. Zero means unknown.
	FrameCount int     `json:"frame_count" yaml:"frame_count"`
	Width      int     `json:"width" yaml:"width"`
	Height     int     `json:"height" yaml:"height"`
	FPS        float64 `json:"fps" yaml:"fps"`
}

// Duration returns the nominal stream duration, or zero if it is unknown.
func (m Metadata) Duration() time.Duration {
	if m.FPS <= 0 || m.FrameCount <= 0 {
		return 0
	}
	return time.Duration(float64(m.FrameCount) / m.FPS * float64(time.Second))
}

func (m Metadata) String() string {
	return fmt.Sprintf("%dx%d, %d frames @ %.3f fps", m.Width, m.Height, m.FrameCount, m.FPS)
}

// Source is a decoded video.
type Source interface {
	// Metadata is available as soon as the source is open.
	Metadata() Metadata
	// Frames starts a new traversal at frame 0.
	Frames() (Iterator, error)
	// Close releases the decoder. It is safe to call more than once.
	Close() error
}

// Iterator walks the frames of a Source.
type Iterator interface {
	// Next returns the index of the next frame and the frame itself. The frame
	// stays valid until the following call to Next or Close.
	//
	// At the end of the stream Next returns io.EOF. When a frame cannot be
	// decoded it returns the frame's index with a *FrameDecodeError (the next
	// call continues with the following frame) or a *DecodeFatalError (no
	// further frames will be produced).
	Next() (int, *images.Frame, error)
	// Close ends the traversal.
	Close() error
}

// OpenError is returned when a video cannot be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open video %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// FrameDecodeError reports a single frame that could not be decoded.
type FrameDecodeError struct {
	Index int
	Err   error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Index, e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

// DecodeFatalError reports a stream-level failure. Index is the first frame
// that could not be produced.
type DecodeFatalError struct {
	Index int
	Err   error
}

func (e *DecodeFatalError) Error() string {
	return fmt.Sprintf("video stream failed at frame %d: %v", e.Index, e.Err)
}

func (e *DecodeFatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a recoverable single-frame decode failure.
func IsTransient(err error) bool {
	var fde *FrameDecodeError
	return errors.As(err, &fde)
}

// CheckExtension verifies that path has one of SupportedExtensions.
func CheckExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return nil
		}
	}
	return errors.Errorf("unsupported file extension %q, supported: %v", ext, SupportedExtensions)
}

// Option configures a file backed Source.
type Option func(*options)

type options struct {
	maxConsecutiveFailures int
	logger                 *zap.Logger
	fps                    float64
	ffmpegBin              string
	ffprobeBin             string
}

func defaultOptions() options {
	return options{
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		logger:                 zap.NewNop(),
		ffmpegBin:              "ffmpeg",
		ffprobeBin:             "ffprobe",
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxConsecutiveFailures sets how many unreadable frames in a row are
// tolerated before the stream is declared broken.
func WithMaxConsecutiveFailures(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConsecutiveFailures = n
		}
	}
}

// WithLogger sets the logger used for decoder diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFPS sets the nominal frame rate for sources that carry none (image sequences).
func WithFPS(fps float64) Option {
	return func(o *options) { o.fps = fps }
}

// WithFFmpegBinaries overrides the ffmpeg and ffprobe executables.
func WithFFmpegBinaries(ffmpeg, ffprobe string) Option {
	return func(o *options) {
		if ffmpeg != "" {
			o.ffmpegBin = ffmpeg
		}
		if ffprobe != "" {
			o.ffprobeBin = ffprobe
		}
	}
}

// lifecycle enforces the single-traversal and close-once rules shared by all backends.
type lifecycle struct {
	mu     sync.Mutex
	active bool
	closed bool
}

func (l *lifecycle) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.active {
		return ErrTraversalActive
	}
	l.active = true
	return nil
}

func (l *lifecycle) end() {
	l.mu.Lock()
	l.active = false
	l.mu.Unlock()
}

// markClosed returns true only for the first call.
func (l *lifecycle) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}

func (l *lifecycle) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
