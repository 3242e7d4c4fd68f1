// Package app wires the roi-intensity commands.
package app

import (
	"github.com/nvr-ai/go-roi/config"
	"github.com/nvr-ai/go-roi/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewCommand creates the root *cobra.Command with defaults taken from cfg.
func NewCommand(cfg *config.Config) *cobra.Command {
	var (
		logLevel  = cfg.LogLevel
		logFormat = cfg.LogFormat
		log       = zap.NewNop()
	)

	cmd := &cobra.Command{
		Use:           "roi-intensity",
		Short:         "Per-frame ROI intensity extraction for Kerr contrast analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := logger.New(logLevel, logFormat)
			if err != nil {
				return configError(err)
			}
			log = l
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = log.Sync()
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	fs := cmd.PersistentFlags()
	fs.StringVar(&logLevel, "log-level", logLevel, "Log level: debug, info, warn or error.")
	fs.StringVar(&logFormat, "log-format", logFormat, "Log encoding: json or console.")

	current := func() *zap.Logger { return log }
	cmd.AddCommand(
		newAnalyzeCommand(cfg, current),
		newProbeCommand(cfg, current),
	)
	return cmd
}
