package app

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/nvr-ai/go-roi/config"
	"github.com/nvr-ai/go-roi/video"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProbeCommand(cfg *config.Config, log func() *zap.Logger) *cobra.Command {
	o := NewSourceOptions(cfg)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the metadata of a video",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return configError(err)
			}
			src, err := o.Open(cmd.Context(), log())
			if err != nil {
				return err
			}
			defer src.Close()
			if err := printMetadata(cmd.OutOrStdout(), src.Metadata()); err != nil {
				return err
			}
			if seq, ok := src.(*video.ImageSequence); ok {
				return printSequence(cmd.OutOrStdout(), seq.Files())
			}
			return nil
		},
	}
	o.AddFlags(cmd.Flags())
	return cmd
}

func printMetadata(w io.Writer, meta video.Metadata) error {
	_, err := fmt.Fprintf(w, "frames:   %d\nsize:     %dx%d\nfps:      %.3f\nduration: %s\n",
		meta.FrameCount, meta.Width, meta.Height, meta.FPS, meta.Duration())
	return err
}

// printSequence names the files that become the first and last frame.
func printSequence(w io.Writer, files []video.ImageFile) error {
	if len(files) == 0 {
		return nil
	}
	first, last := files[0], files[len(files)-1]
	_, err := fmt.Fprintf(w, "first:    %s (#%d)\nlast:     %s (#%d)\n",
		filepath.Base(first.Path), first.Number, filepath.Base(last.Path), last.Number)
	return err
}
