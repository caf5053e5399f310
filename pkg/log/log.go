// Package log provides the logging functionality for tap-prometheus.
//
// All output goes to stderr: stdout is reserved for the Singer message
// stream consumed by the downstream loader.
package log

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.SugaredLogger

func init() {
	Logger = CreateLogger(DefaultConfig())
}

// DefaultConfig returns the production zap config with RFC3339 timestamps,
// writing to stderr only.
func DefaultConfig() *zap.Config {
	c := zap.NewProductionConfig()
	c.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	c.OutputPaths = []string{"stderr"}
	c.ErrorOutputPaths = []string{"stderr"}
	return &c
}

// CreateLogger builds a sugared logger from the given config.
func CreateLogger(config *zap.Config) *zap.SugaredLogger {
	if config == nil {
		config = DefaultConfig()
	}

	l, err := config.Build()
	if err != nil {
		panic(err)
	}

	return l.Sugar()
}

// SetLevel adjusts the level of the package logger. Unknown levels are
// ignored and the current level is kept.
func SetLevel(level string) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return
	}

	cfg := DefaultConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	Logger = CreateLogger(cfg)
}
