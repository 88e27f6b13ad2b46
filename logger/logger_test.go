package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: FormatJSON, Service: "freight-core", Out: &buf})

	log.Debug("hidden")
	log.Info("document created")

	assert.Contains(t, buf.String(), `"msg":"document created"`)
	assert.Contains(t, buf.String(), `"service":"freight-core"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		env, format, want string
	}{
		{"production", "", FormatJSON},
		{"development", "", FormatConsole},
		{"", "", FormatConsole},
		{"production", "console", FormatConsole},
		{"development", "JSON", FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, formatFor(tt.env, tt.format))
		})
	}
}

func TestForEnvironment_RespectsLevel(t *testing.T) {
	log := ForEnvironment("production", "warn", "")
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}
