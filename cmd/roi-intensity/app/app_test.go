package app

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-roi/config"
	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/results"
	"github.com/nvr-ai/go-roi/video"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:               "info",
		LogFormat:              "json",
		ProgressEvery:          10,
		MaxConsecutiveFailures: 5,
		Backend:                BackendOpenCV,
		Reducer:                "mean",
		FFmpegBin:              "ffmpeg",
		FFprobeBin:             "ffprobe",
		PreviewWidth:           640,
	}
}

func TestRegionResolve(t *testing.T) {
	tests := []struct {
		name    string
		opts    RegionOptions
		want    images.ROI
		wantErr bool
	}{
		{"roi", RegionOptions{ROI: "1,2,3,4"}, images.NewROI(1, 2, 3, 4), false},
		// 320x240 fits an 800x600 canvas at scale 2.5 with no offset.
		{"display rect", RegionOptions{DisplayRect: "250,100,50,300", Canvas: "800x600", Zoom: 1}, images.NewROI(20, 40, 80, 80), false},
		{"both", RegionOptions{ROI: "1,2,3,4", DisplayRect: "0,0,1,1"}, images.ROI{}, true},
		{"neither", RegionOptions{}, images.ROI{}, true},
		{"bad corners", RegionOptions{DisplayRect: "1,2,3", Canvas: "800x600"}, images.ROI{}, true},
		{"bad canvas", RegionOptions{DisplayRect: "1,2,3,4", Canvas: "800"}, images.ROI{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.opts.Resolve(320, 240)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSourceValidate(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("x"), 0o644))
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("x"), 0o644))

	tests := []struct {
		name    string
		video   string
		backend string
		wantErr bool
	}{
		{"video file", clip, BackendOpenCV, false},
		{"ffmpeg file", clip, BackendFFmpeg, false},
		{"sequence dir", dir, BackendSequence, false},
		{"missing", filepath.Join(dir, "gone.mp4"), BackendOpenCV, true},
		{"empty", "", BackendOpenCV, true},
		{"extension", text, BackendOpenCV, true},
		{"dir for file backend", dir, BackendFFmpeg, true},
		{"file for sequence", clip, BackendSequence, true},
		{"unknown backend", clip, "vlc", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := NewSourceOptions(testConfig())
			o.Video, o.Backend = tc.video, tc.backend
			err := o.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	o := NewAnalyzeOptions(testConfig())
	o.Region.ROI = "0,0,8,8"
	o.Out = filepath.Join(dir, "out.csv")
	o.Summary = filepath.Join(dir, "summary.json")
	o.Preview = filepath.Join(dir, "preview.png")
	o.PreviewWidth = 8

	src := video.NewUniform(16, 16, []uint8{0, 0, 0, 128, 128, 128, 128, 0, 0, 0})
	defer src.Close()

	require.NoError(t, o.Analyze(context.Background(), src, zap.NewNop(), &bytes.Buffer{}))

	f, err := os.Open(o.Out)
	require.NoError(t, err)
	rows, err := results.ParseCSV(f)
	f.Close()
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, 128.0, rows[3].Value)

	f, err = os.Open(o.Summary)
	require.NoError(t, err)
	summary, err := results.ReadSummary(f, results.FormatJSON)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 1.0, summary.Statistics.ContrastRatio)

	f, err = os.Open(o.Preview)
	require.NoError(t, err)
	img, err := png.Decode(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestAnalyzeWithLiveServer(t *testing.T) {
	o := NewAnalyzeOptions(testConfig())
	o.Region.ROI = "0,0,4,4"
	o.Out = "-"
	o.Summary = filepath.Join(t.TempDir(), "summary.cbor")
	o.MetricsAddr = "127.0.0.1:0"

	src := video.NewUniform(4, 4, []uint8{3, 4, 5})
	defer src.Close()

	var out bytes.Buffer
	require.NoError(t, o.Analyze(context.Background(), src, zap.NewNop(), &out))
	assert.Equal(t, "frame,intensity\n0,3\n1,4\n2,5\n", out.String())

	f, err := os.Open(o.Summary)
	require.NoError(t, err)
	defer f.Close()
	summary, err := results.ReadSummary(f, results.FormatCBOR)
	require.NoError(t, err)
	assert.Equal(t, "completed", summary.Status)
	assert.NotEmpty(t, summary.RunID)
}

func TestAnalyzeCancelledWritesPartial(t *testing.T) {
	o := NewAnalyzeOptions(testConfig())
	o.Region.ROI = "0,0,4,4"
	o.Out = "-"
	o.LegacyCSV = true

	ctx, cancel := context.WithCancel(context.Background())
	src := video.NewUniform(4, 4, []uint8{5, 6, 7, 8}, video.WithReadHook(func(i int) {
		if i == 1 {
			cancel()
		}
	}))
	defer src.Close()

	var out bytes.Buffer
	require.NoError(t, o.Analyze(ctx, src, zap.NewNop(), &out))
	assert.Equal(t, "Frame_Number,Magnetic_Field_Step,Mean_ROI_Intensity\n0,0,5\n1,1,6\n", out.String())
}

func TestAnalyzeFailures(t *testing.T) {
	o := NewAnalyzeOptions(testConfig())
	o.Out = "-"

	src := video.NewUniform(4, 4, []uint8{1, 2, 3}, video.WithFatalFailure(2))
	defer src.Close()

	o.Region.ROI = "2,2,4,4"
	var oob *images.OutOfBoundsError
	assert.True(t, errors.As(o.Analyze(context.Background(), src, zap.NewNop(), &bytes.Buffer{}), &oob))

	o.Region.ROI = "0,0,4,4"
	var out bytes.Buffer
	err := o.Analyze(context.Background(), src, zap.NewNop(), &out)
	var fatal *video.DecodeFatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "frame,intensity\n0,1\n1,2\n", out.String(), "partial results are written")
}

func TestPrintMetadata(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printMetadata(&buf, video.Metadata{FrameCount: 50, Width: 640, Height: 480, FPS: 25}))
	assert.Contains(t, buf.String(), "frames:   50")
	assert.Contains(t, buf.String(), "size:     640x480")
	assert.Contains(t, buf.String(), "duration: 2s")
}

func TestPrintSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSequence(&buf, []video.ImageFile{
		{Path: "/data/frame-2.png", Number: 2},
		{Path: "/data/frame-10.png", Number: 10},
	}))
	assert.Equal(t, "first:    frame-2.png (#2)\nlast:     frame-10.png (#10)\n", buf.String())

	buf.Reset()
	require.NoError(t, printSequence(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitRunError, ExitCode(errors.New("stream broke")))
	assert.Equal(t, ExitConfigError, ExitCode(configError(errors.New("bad roi"))))
	assert.Equal(t, ExitConfigError, ExitCode(errors.Wrap(configError(errors.New("bad roi")), "analyze")))
	assert.Nil(t, configError(nil))
}

func TestCommandExitCodes(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"missing video", []string{"probe"}},
		{"unsupported extension", []string{"probe", "--video", notes}},
		{"unknown backend", []string{"analyze", "--video", notes, "--backend", "vlc", "--roi", "0,0,1,1"}},
		{"bad flag value", []string{"analyze", "--progress-every", "often"}},
		{"unknown flag", []string{"probe", "--frobnicate"}},
		{"positional argument", []string{"probe", "extra"}},
		{"bad log level", []string{"--log-level", "loud", "probe"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := NewCommand(testConfig())
			cmd.SetArgs(tc.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			err := cmd.Execute()
			require.Error(t, err)
			assert.Equal(t, ExitConfigError, ExitCode(err), err.Error())
		})
	}
}

func TestAnalyzeExitCodes(t *testing.T) {
	o := NewAnalyzeOptions(testConfig())
	o.Out = "-"
	src := video.NewUniform(4, 4, []uint8{1, 2, 3}, video.WithFatalFailure(1))
	defer src.Close()

	for _, bad := range []func(){
		func() { o.Region.ROI, o.Reducer = "9223372036854775807,0,1,1", "mean" },
		func() { o.Region.ROI, o.Reducer = "0,0,4", "mean" },
		func() { o.Region.ROI, o.Reducer = "0,0,4,4", "median" },
	} {
		bad()
		err := o.Analyze(context.Background(), src, zap.NewNop(), &bytes.Buffer{})
		assert.Equal(t, ExitConfigError, ExitCode(err), "%v", err)
	}

	o.Region.ROI, o.Reducer = "0,0,4,4", "mean"
	err := o.Analyze(context.Background(), src, zap.NewNop(), &bytes.Buffer{})
	assert.Equal(t, ExitRunError, ExitCode(err), "%v", err)
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(testConfig())
	analyze, _, err := cmd.Find([]string{"analyze"})
	require.NoError(t, err)
	assert.Equal(t, "10", analyze.Flags().Lookup("progress-every").DefValue)
	assert.Equal(t, BackendOpenCV, analyze.Flags().Lookup("backend").DefValue)

	cmd.SetArgs([]string{"probe"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute(), "probe without --video")
}
