package app

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger at the configured level. Unknown levels
// fall back to info.
func NewLogger(s LogSettings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Development {
		cfg = zap.NewDevelopmentConfig()
	}

	level := strings.TrimSpace(s.Level)
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
