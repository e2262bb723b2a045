package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger so the server owns one root logger and hands
// named children to each component.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// New creates a logger. Every entry carries service=lectern so lecture logs
// can be told apart when shipped alongside the content backend's.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          "json",
		EncoderConfig:     jsonEncoder(),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
		InitialFields:     map[string]any{"service": "lectern"},
	}
	if cfg.Development {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = consoleEncoder()
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// FromLevel builds a logger for the configured level. An unknown level
// falls back to info in production and debug in development.
func FromLevel(level string, development bool) *Logger {
	cfg := Config{Level: level, Development: development}
	if logger, err := New(cfg); err == nil {
		return logger
	}

	cfg.Level = "info"
	if development {
		cfg.Level = "debug"
	}
	logger, err := New(cfg)
	if err != nil {
		return &Logger{Logger: zap.NewNop()}
	}
	logger.Warn("Unknown log level, using default", zap.String("level", level), zap.String("using", cfg.Level))
	return logger
}

func consoleEncoder() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}

func jsonEncoder() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.SecondsDurationEncoder
	return enc
}
