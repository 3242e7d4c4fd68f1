package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nvr-ai/go-roi/config"
	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/intensity"
	"github.com/nvr-ai/go-roi/live"
	"github.com/nvr-ai/go-roi/metrics"
	"github.com/nvr-ai/go-roi/pipeline"
	"github.com/nvr-ai/go-roi/profiler"
	"github.com/nvr-ai/go-roi/results"
	"github.com/nvr-ai/go-roi/video"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// AnalyzeOptions holds the flags of the analyze command.
type AnalyzeOptions struct {
	Source *SourceOptions
	Region RegionOptions

	Reducer       string
	Out           string
	LegacyCSV     bool
	Summary       string
	Preview       string
	PreviewWidth  int
	ProgressEvery int
	MetricsAddr   string
}

// NewAnalyzeOptions seeds the options from the environment config.
func NewAnalyzeOptions(cfg *config.Config) *AnalyzeOptions {
	return &AnalyzeOptions{
		Source:        NewSourceOptions(cfg),
		Reducer:       cfg.Reducer,
		Out:           "results.csv",
		PreviewWidth:  cfg.PreviewWidth,
		ProgressEvery: cfg.ProgressEvery,
		MetricsAddr:   cfg.MetricsAddr,
	}
}

// AddFlags registers the analyze flags on fs.
func (o *AnalyzeOptions) AddFlags(fs *pflag.FlagSet) {
	o.Source.AddFlags(fs)
	o.Region.AddFlags(fs)
	fs.StringVar(&o.Reducer, "reducer", o.Reducer, "Per-frame statistic: mean (unweighted channel mean) or luma (BT.601 gray, as OpenCV converts BGR).")
	fs.StringVar(&o.Out, "out", o.Out, "CSV file for the intensity series; \"-\" writes to stdout.")
	fs.BoolVar(&o.LegacyCSV, "legacy-csv", o.LegacyCSV, "Write the three-column Frame_Number,Magnetic_Field_Step,Mean_ROI_Intensity layout.")
	fs.StringVar(&o.Summary, "summary", o.Summary, "Write a run summary; .json selects JSON, .cbor CBOR, anything else YAML.")
	fs.StringVar(&o.Preview, "preview", o.Preview, "Write the first frame with the ROI outlined (.png or .jpg).")
	fs.IntVar(&o.PreviewWidth, "preview-width", o.PreviewWidth, "Maximum width of the preview image.")
	fs.IntVar(&o.ProgressEvery, "progress-every", o.ProgressEvery, "Log progress every N frames.")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Serve Prometheus metrics and the /ws live progress stream on this address while running, e.g. :9090.")
}

func newAnalyzeCommand(cfg *config.Config, log func() *zap.Logger) *cobra.Command {
	o := NewAnalyzeOptions(cfg)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Extract the mean ROI intensity of every frame",
		Long: `Reads every frame of a video, averages the pixels inside the region of
interest and writes the per-frame intensity series as CSV. Interrupting the run
keeps the frames processed so far.`,
		Example: `  roi-intensity analyze --video kerr.mp4 --roi 120,80,64,64 --out kerr.csv --summary kerr.yaml`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Source.Validate(); err != nil {
				return configError(err)
			}
			return o.Run(cmd.Context(), log(), cmd.OutOrStdout())
		},
	}
	o.AddFlags(cmd.Flags())
	return cmd
}

// Run opens the source and analyzes it. Partial results of a cancelled or
// failed run are still written before the error is returned.
func (o *AnalyzeOptions) Run(ctx context.Context, logger *zap.Logger, stdout io.Writer) error {
	src, err := o.Source.Open(ctx, logger)
	if err != nil {
		return err
	}
	defer src.Close()
	return o.Analyze(ctx, src, logger, stdout)
}

// Analyze runs the pipeline over an open source and writes the outputs.
func (o *AnalyzeOptions) Analyze(ctx context.Context, src video.Source, logger *zap.Logger, stdout io.Writer) error {
	reducer, err := intensity.ByName(o.Reducer)
	if err != nil {
		return configError(err)
	}
	meta := src.Metadata()
	roi, err := o.Region.Resolve(meta.Width, meta.Height)
	if err != nil {
		return configError(err)
	}
	if _, err := roi.Validate(meta.Width, meta.Height); err != nil {
		return configError(err)
	}
	logger.Info("analyzing", zap.Stringer("video", meta), zap.Stringer("roi", roi))

	if o.Preview != "" {
		if err := o.writePreview(src, roi); err != nil {
			return err
		}
		logger.Info("preview written", zap.String("path", o.Preview))
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}
	var hub *live.Hub
	if o.MetricsAddr != "" {
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		hub = live.NewHub(logger, live.DefaultBuffer)
		broadcasting := make(chan struct{})
		go func() {
			defer close(broadcasting)
			hub.Run(srvCtx)
		}()
		defer func() {
			hub.Close()
			<-broadcasting
		}()
		go func() {
			if err := metrics.Serve(srvCtx, o.MetricsAddr, reg, logger, metrics.WithHandler("/ws", hub)); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	prof := profiler.New(profiler.Options{})
	p := pipeline.New(pipeline.Options{
		Reducer:       reducer,
		ProgressEvery: o.ProgressEvery,
		Logger:        logger,
		Metrics:       rec,
		Profiler:      prof,
		OnProgress: func(e pipeline.ProgressEvent) {
			fields := []zap.Field{zap.Int("frame", e.FramesDone), zap.Float64("intensity", e.Value)}
			if e.FramesTotal > 0 {
				fields = append(fields,
					zap.Int("total", e.FramesTotal),
					zap.String("percent", fmt.Sprintf("%.1f", 100*float64(e.FramesDone)/float64(e.FramesTotal))))
			}
			logger.Info("progress", fields...)
			if hub != nil {
				hub.Publish(live.Progress{Type: live.TypeProgress, RunID: e.RunID, Frame: e.FramesDone, Total: e.FramesTotal, Intensity: e.Value})
			}
		},
	})

	rs, runErr := p.Run(ctx, src, roi)
	prof.Report(logger)
	if rs == nil {
		return runErr
	}
	if hub != nil {
		done := live.Done{Type: live.TypeDone, RunID: rs.ID(), Status: rs.Status().String(), Frames: rs.Len()}
		if runErr != nil {
			done.Error = runErr.Error()
		}
		hub.Publish(done)
	}

	if err := o.writeOutputs(rs, stdout); err != nil {
		if runErr != nil {
			logger.Error("write partial results", zap.Error(err))
			return runErr
		}
		return err
	}
	if st, err := rs.Statistics(); err == nil {
		logger.Info("statistics",
			zap.String("run_id", rs.ID()),
			zap.String("status", rs.Status().String()),
			zap.Int("frames", st.Count),
			zap.Float64("min", st.Min),
			zap.Float64("max", st.Max),
			zap.Float64("mean", st.Mean),
			zap.Float64("contrast_ratio", st.ContrastRatio),
		)
	}
	return runErr
}

func (o *AnalyzeOptions) writeOutputs(rs *results.ResultSet, stdout io.Writer) error {
	write := rs.WriteCSV
	if o.LegacyCSV {
		write = rs.WriteLegacyCSV
	}
	if o.Out == "-" {
		if err := write(stdout); err != nil {
			return err
		}
	} else if o.Out != "" {
		if err := writeFile(o.Out, write); err != nil {
			return errors.Wrap(err, "write csv")
		}
	}

	if o.Summary != "" {
		format := results.FormatFromPath(o.Summary)
		err := writeFile(o.Summary, func(w io.Writer) error { return rs.WriteSummary(w, format) })
		if err != nil {
			return errors.Wrap(err, "write summary")
		}
	}
	return nil
}

// writePreview renders the first decodable frame with the ROI outlined.
func (o *AnalyzeOptions) writePreview(src video.Source, roi images.ROI) error {
	it, err := src.Frames()
	if err != nil {
		return errors.Wrap(err, "read preview frame")
	}
	defer it.Close()

	for {
		_, frame, err := it.Next()
		if video.IsTransient(err) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "read preview frame")
		}
		img, err := images.RenderPreview(frame, roi, o.PreviewWidth)
		if err != nil {
			return err
		}
		format := images.FormatFromPath(o.Preview)
		return writeFile(o.Preview, func(w io.Writer) error { return images.Encode(w, img, format) })
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
