package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		level  string
		enable zapcore.Level
		off    zapcore.Level
	}{
		{"dev debug", "dev", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"production warn", "production", "warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"unknown falls back to info", "dev", "loud", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.env, tt.level)
			require.NoError(t, err)
			require.True(t, logger.Core().Enabled(tt.enable))
			require.False(t, logger.Core().Enabled(tt.off))
		})
	}
}
