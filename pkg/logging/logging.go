// Package logging builds the structured zap loggers used across geoproxy.
// Output is logfmt on stdout so proxy and cache events can be grepped per component.
package logging

import (
	"os"
	"strings"

	zaplogfmt "github.com/allir/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration options.
type Config struct {
	// Level specifies the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Output is "stdout" (default) or "stderr".
	Output string `mapstructure:"output"`
}

// New initializes a zap logger configured to emit logfmt output.
func New(cfg Config) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.ConsoleSeparator = " "

	core := zapcore.NewCore(
		zaplogfmt.NewEncoder(encoderConfig),
		zapcore.Lock(output(cfg.Output)),
		zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
	)

	return zap.New(core), nil
}

// Component returns a child logger tagged with the component name.
// A nil logger yields a no-op logger so constructors can accept optional loggers.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("component", name))
}

func output(v string) *os.File {
	if strings.EqualFold(v, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel converts a string level name to a zapcore.Level constant.
// It defaults to info level for empty or unrecognized values.
func parseLevel(v string) zapcore.Level {
	switch strings.ToLower(v) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
