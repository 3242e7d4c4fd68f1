package app

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-roi/config"
	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/video"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Backend names accepted by --backend.
const (
	BackendOpenCV   = "opencv"
	BackendFFmpeg   = "ffmpeg"
	BackendSequence = "sequence"
)

// SourceOptions selects and opens the frame source.
type SourceOptions struct {
	Video                  string
	Backend                string
	FFmpegBin              string
	FFprobeBin             string
	MaxConsecutiveFailures int
	FPS                    float64
}

// NewSourceOptions seeds the options from the environment config.
func NewSourceOptions(cfg *config.Config) *SourceOptions {
	return &SourceOptions{
		Backend:                cfg.Backend,
		FFmpegBin:              cfg.FFmpegBin,
		FFprobeBin:             cfg.FFprobeBin,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}
}

// AddFlags registers the source flags on fs.
func (s *SourceOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Video, "video", s.Video, "Path to the video file, or the frame directory for the sequence backend.")
	fs.StringVar(&s.Backend, "backend", s.Backend, "Decoder backend: opencv, ffmpeg or sequence.")
	fs.StringVar(&s.FFmpegBin, "ffmpeg", s.FFmpegBin, "ffmpeg executable used by the ffmpeg backend.")
	fs.StringVar(&s.FFprobeBin, "ffprobe", s.FFprobeBin, "ffprobe executable used by the ffmpeg backend.")
	fs.IntVar(&s.MaxConsecutiveFailures, "max-failures", s.MaxConsecutiveFailures, "Consecutive unreadable frames tolerated before a run fails.")
	fs.Float64Var(&s.FPS, "fps", s.FPS, "Nominal frame rate for image sequences.")
}

// Validate checks that the input exists and suits the backend.
func (s *SourceOptions) Validate() error {
	if s.Video == "" {
		return errors.New("--video is required")
	}
	info, err := os.Stat(s.Video)
	if err != nil {
		return errors.Wrap(err, "input validation failed")
	}

	switch s.Backend {
	case BackendSequence:
		if !info.IsDir() {
			return errors.Errorf("sequence backend expects a directory, got file %s", s.Video)
		}
	case BackendOpenCV, BackendFFmpeg:
		if info.IsDir() {
			return errors.Errorf("%s backend expects a video file, got directory %s", s.Backend, s.Video)
		}
		if err := video.CheckExtension(s.Video); err != nil {
			return errors.Wrap(err, "input validation failed")
		}
	default:
		return errors.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

// Open opens the selected backend. The caller closes the source.
func (s *SourceOptions) Open(ctx context.Context, logger *zap.Logger) (video.Source, error) {
	opts := []video.Option{
		video.WithLogger(logger),
		video.WithMaxConsecutiveFailures(s.MaxConsecutiveFailures),
		video.WithFFmpegBinaries(s.FFmpegBin, s.FFprobeBin),
	}
	if s.FPS > 0 {
		opts = append(opts, video.WithFPS(s.FPS))
	}

	var (
		src video.Source
		err error
	)
	switch s.Backend {
	case BackendOpenCV:
		src, err = video.OpenFile(s.Video, opts...)
	case BackendFFmpeg:
		src, err = video.OpenFFmpeg(ctx, s.Video, opts...)
	case BackendSequence:
		src, err = video.OpenImageSequence(s.Video, opts...)
	default:
		return nil, errors.Errorf("unknown backend %q", s.Backend)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// RegionOptions describes the ROI either in source pixels or as a rectangle
// dragged on a canvas showing the scaled frame.
type RegionOptions struct {
	ROI         string
	DisplayRect string
	Canvas      string
	Zoom        float64
}

// AddFlags registers the region flags on fs.
func (r *RegionOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&r.ROI, "roi", r.ROI, "Region of interest in source pixels as x,y,w,h.")
	fs.StringVar(&r.DisplayRect, "display-rect", r.DisplayRect, "Region as two canvas corners x1,y1,x2,y2; converted through --canvas and --zoom.")
	fs.StringVar(&r.Canvas, "canvas", "800x600", "Canvas size WxH the --display-rect was drawn on.")
	fs.Float64Var(&r.Zoom, "zoom", 1, "Zoom factor of the canvas the --display-rect was drawn on.")
}

// Resolve returns the ROI in source coordinates for a width x height frame.
func (r *RegionOptions) Resolve(width, height int) (images.ROI, error) {
	switch {
	case r.ROI != "" && r.DisplayRect != "":
		return images.ROI{}, errors.New("--roi and --display-rect are mutually exclusive")
	case r.ROI != "":
		return images.ParseROI(r.ROI)
	case r.DisplayRect != "":
		corners, err := parseInts(r.DisplayRect, ",", 4)
		if err != nil {
			return images.ROI{}, errors.Wrap(err, "parse --display-rect")
		}
		canvas, err := parseInts(strings.ToLower(r.Canvas), "x", 2)
		if err != nil {
			return images.ROI{}, errors.Wrap(err, "parse --canvas")
		}
		t := images.FitTransform(width, height, canvas[0], canvas[1], r.Zoom)
		return t.ToSource(corners[0], corners[1], corners[2], corners[3]), nil
	default:
		return images.ROI{}, errors.New("one of --roi or --display-rect is required")
	}
}

func parseInts(s, sep string, n int) ([]int, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, errors.Errorf("want %d values separated by %q, got %q", n, sep, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "value %d of %q", i+1, s)
		}
		out[i] = v
	}
	return out, nil
}
