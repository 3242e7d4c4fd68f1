package video

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-roi/images"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// FFmpeg is a Source that shells out to the ffmpeg binaries: ffprobe reads the
// stream metadata and ffmpeg decodes to raw BGR frames on a pipe.
type FFmpeg struct {
	lifecycle

	ctx  context.Context
	path string
	meta Metadata
	opts options
}

type probeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// OpenFFmpeg probes path with ffprobe. ctx bounds the probe and every ffmpeg
// process started by Frames.
func OpenFFmpeg(ctx context.Context, path string, opts ...Option) (*FFmpeg, error) {
	o := applyOptions(opts)

	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, o.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_packets",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = errors.Errorf("ffprobe: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, &OpenError{Path: path, Err: err}
	}

	meta, err := parseProbe(out)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	o.logger.Debug("video probed", zap.String("path", path), zap.Stringer("metadata", meta))
	return &FFmpeg{ctx: ctx, path: path, meta: meta, opts: o}, nil
}

func parseProbe(data []byte) (Metadata, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return Metadata{}, errors.Wrap(err, "parse ffprobe output")
	}
	if len(probe.Streams) == 0 {
		return Metadata{}, errors.New("no video stream")
	}

	s := probe.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Metadata{}, errors.Errorf("invalid stream size %dx%d", s.Width, s.Height)
	}

	meta := Metadata{Width: s.Width, Height: s.Height}
	meta.FPS = parseRate(s.AvgFrameRate)
	if meta.FPS == 0 {
		meta.FPS = parseRate(s.RFrameRate)
	}
	for _, n := range []string{s.NbFrames, s.NbReadPackets} {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			meta.FrameCount = v
			break
		}
	}
	return meta, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Metadata implements Source.
func (f *FFmpeg) Metadata() Metadata {
	return f.meta
}

// Frames implements Source. Each traversal runs a new ffmpeg process.
func (f *FFmpeg) Frames() (Iterator, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(f.ctx)
	cmd := exec.CommandContext(ctx, f.opts.ffmpegBin,
		"-v", "error",
		"-i", f.path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		f.end()
		return nil, errors.Wrap(err, "ffmpeg stdout")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		f.end()
		return nil, errors.Wrap(err, "start ffmpeg")
	}

	it := &ffmpegIterator{f: f, cmd: cmd, cancel: cancel, stdout: stdout, stderr: stderr}
	it.frame.Reset(f.meta.Width, f.meta.Height, 3)
	return it, nil
}

// Close implements Source.
func (f *FFmpeg) Close() error {
	f.markClosed()
	return nil
}

type ffmpegIterator struct {
	f      *FFmpeg
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *bytes.Buffer
	frame  images.Frame
	index  int
	done   bool
	closed bool
}

func (it *ffmpegIterator) Next() (int, *images.Frame, error) {
	if it.closed || it.done {
		return it.index, nil, io.EOF
	}
	if it.f.isClosed() {
		return it.index, nil, ErrClosed
	}

	i := it.index
	_, err := io.ReadFull(it.stdout, it.frame.Pix)
	switch {
	case err == nil:
		it.index++
		return i, &it.frame, nil
	case errors.Is(err, io.EOF):
		it.done = true
		if werr := it.wait(); werr != nil {
			return i, nil, &DecodeFatalError{Index: i, Err: werr}
		}
		return i, nil, io.EOF
	default:
		it.done = true
		cause := err
		if werr := it.wait(); werr != nil {
			cause = werr
		}
		return i, nil, &DecodeFatalError{Index: i, Err: cause}
	}
}

func (it *ffmpegIterator) wait() error {
	if err := it.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(it.stderr.String()); msg != "" {
			return errors.Wrap(err, msg)
		}
		return errors.Wrap(err, "ffmpeg")
	}
	return nil
}

func (it *ffmpegIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	defer it.f.end()

	it.cancel()
	if !it.done {
		_ = it.cmd.Wait()
	}
	return nil
}
