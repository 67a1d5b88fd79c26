// Package logger builds the process-wide zap logger shared by all components.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New constructs a logger from a level name ("debug", "info", "warn",
// "error") and an encoding ("json" or "console"). Empty values fall back to
// info/json. Components receive named children of the returned logger.
func New(level, encoding string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if encoding == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
