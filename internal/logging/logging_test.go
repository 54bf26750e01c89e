package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		level      string
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"dev debug", false, "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"prod info", true, "info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"prod warn", true, "WARN", zapcore.WarnLevel, zapcore.InfoLevel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := New(tc.production, tc.level)
			require.NoError(t, err)

			assert.True(t, logger.Core().Enabled(tc.enabled))
			assert.False(t, logger.Core().Enabled(tc.disabled))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(false, "loud")
	assert.ErrorContains(t, err, "invalid log level")
}
