package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger based on level/format settings. zap's core
// serialises writes, so one log call produces one uninterleaved line.
func NewLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.ToLower(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = strings.ToLower(format)

	return cfg.Build()
}

// ForRun derives a logger that tags every line with the run id.
func ForRun(base *zap.Logger, runID string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.With(zap.String("run_id", runID))
}
