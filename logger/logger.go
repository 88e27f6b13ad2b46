// Package logger builds the zap loggers used across the server.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects level and encoding. Out defaults to stdout.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Service string
	Out     io.Writer
}

// New creates a zap logger. JSON lines carry a "service" field when
// Service is set.
func New(cfg Config) *zap.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(out), ParseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Service != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Service)))
	}
	return zap.New(core, opts...)
}

// ForEnvironment builds the server logger. An empty format means JSON in
// production and console elsewhere.
func ForEnvironment(env, level, format string) *zap.Logger {
	return New(Config{Level: level, Format: formatFor(env, format), Service: "freight-core"})
}

func formatFor(env, format string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	if env == "production" {
		return FormatJSON
	}
	return FormatConsole
}

// ParseLevel converts a string level to zapcore.Level. Unknown levels are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newEncoder(format string) zapcore.Encoder {
	if format == FormatConsole {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return zapcore.NewJSONEncoder(ec)
}
