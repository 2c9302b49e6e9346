// Package logger builds the service's zap loggers and carries request
// correlation fields through context.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects level, encoding and sink for the root logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	// Output is stdout, stderr or a file path opened for append
	Output     string
	TimeFormat string
	// Fields are attached to every entry
	Fields map[string]string
}

// DefaultConfig is console output at info, suited to a terminal.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console", Output: "stdout", TimeFormat: defaultTimeFormat}
}

// New builds the root logger. Entries at error and above carry a stack trace.
func New(cfg *Config) (*zap.Logger, error) {
	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Encoding:         "json",
		EncoderConfig:    encoderConfig(cfg),
		OutputPaths:      []string{sinkPath(cfg.Output)},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(cfg.Format, "console") {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(cfg.Fields) > 0 {
		zc.InitialFields = make(map[string]any, len(cfg.Fields))
		for k, v := range cfg.Fields {
			zc.InitialFields[k] = v
		}
	}
	return zc.Build()
}

// ParseLevel maps a level name to zap, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func encoderConfig(cfg *Config) zapcore.EncoderConfig {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = defaultTimeFormat
	}
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(layout)
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return ec
}

// sinkPath maps Output onto zap's sink URLs; "" means stdout.
func sinkPath(output string) string {
	switch strings.ToLower(output) {
	case "", "stdout":
		return "stdout"
	case "stderr":
		return "stderr"
	}
	return output
}
