package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
)

// Config holds configuration for the logger
type Config struct {
	Environment string
	Level       string
	Service     string
}

// New builds the process logger: JSON on stdout, and when b is non-nil every
// enabled entry is also published on the bus as a log event.
func New(cfg Config, b *bus.Bus) (*zap.Logger, error) {
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	level := ParseLevel(cfg.Level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	config := zap.Config{
		Level:            level,
		Development:      cfg.Environment == "development",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if b != nil {
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, NewBusCore(b, level))
		}))
	}

	log, err := config.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	fields := []zap.Field{zap.String("environment", cfg.Environment)}
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	return log.With(fields...), nil
}

// ParseLevel maps a level name to an atomic level, defaulting to info.
func ParseLevel(level string) zap.AtomicLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case "fatal":
		return zap.NewAtomicLevelAt(zapcore.FatalLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}
