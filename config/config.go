// Package config loads runtime settings from the environment.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds the settings shared by the CLI commands. Flags override them.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ProgressEvery          int    `env:"ROI_PROGRESS_EVERY"           envDefault:"10"`
	MaxConsecutiveFailures int    `env:"ROI_MAX_CONSECUTIVE_FAILURES" envDefault:"5"`
	Backend                string `env:"ROI_BACKEND"                  envDefault:"opencv"`
	Reducer                string `env:"ROI_REDUCER"                  envDefault:"mean"`
	FFmpegBin              string `env:"ROI_FFMPEG_BIN"               envDefault:"ffmpeg"`
	FFprobeBin             string `env:"ROI_FFPROBE_BIN"              envDefault:"ffprobe"`
	PreviewWidth           int    `env:"ROI_PREVIEW_WIDTH"            envDefault:"640"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	switch c.Backend {
	case "opencv", "ffmpeg", "sequence":
	default:
		return errors.Errorf("unknown backend %q (want opencv, ffmpeg or sequence)", c.Backend)
	}
	switch c.Reducer {
	case "mean", "luma":
	default:
		return errors.Errorf("unknown reducer %q (want mean or luma)", c.Reducer)
	}
	if c.ProgressEvery < 1 {
		return errors.Errorf("progress interval must be at least 1, got %d", c.ProgressEvery)
	}
	if c.MaxConsecutiveFailures < 1 {
		return errors.Errorf("max consecutive failures must be at least 1, got %d", c.MaxConsecutiveFailures)
	}
	if c.PreviewWidth < 1 {
		return errors.Errorf("preview width must be at least 1, got %d", c.PreviewWidth)
	}
	return nil
}
