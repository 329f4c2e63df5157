// Package logging builds the zap logger shared by the CLI and core packages.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLevel = "HARNESS_LOG_LEVEL"

type Options struct {
	// Level is debug, info, warn or error. HARNESS_LOG_LEVEL overrides it.
	Level string
	// Format is console or json.
	Format string
	Writer io.Writer
}

// New returns a logger writing to Options.Writer (stderr by default). The CLI
// defaults to warn so routine commands stay quiet.
func New(opts Options) *zap.Logger {
	level := ParseLevel(opts.Level)
	if fromEnv := strings.TrimSpace(os.Getenv(EnvLevel)); fromEnv != "" {
		level = ParseLevel(fromEnv)
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(writer)), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)).Named("harness")
}

func ParseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// OrNop guards optional logger fields.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
