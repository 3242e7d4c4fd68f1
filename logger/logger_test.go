package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   zapcore.Level
	}{
		{"info", "json", zapcore.InfoLevel},
		{"debug", "console", zapcore.DebugLevel},
		{"WARN", "", zapcore.WarnLevel},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			log, err := New(tc.level, tc.format)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tc.want))
			assert.False(t, log.Core().Enabled(tc.want-1))
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}
