package app

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Process exit statuses.
const (
	ExitOK          = 0
	ExitRunError    = 1
	ExitConfigError = 2
)

// ConfigError marks an unusable flag, argument or environment setting, as
// opposed to a failure while reading or analyzing the video.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func configError(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Err: err}
}

// ExitCode maps the error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ExitConfigError
	}
	return ExitRunError
}

func noArgs(cmd *cobra.Command, args []string) error {
	return configError(cobra.NoArgs(cmd, args))
}
