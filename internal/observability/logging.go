// Package observability builds the logger and metrics shared by the planner.
package observability

import (
	"fmt"

	"go.uber.org/zap"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"`
	Dev    bool   `yaml:"development"`
}

// NewLogger builds a zap logger. An unparsable level falls back to info.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zc.Level = level
	switch cfg.Format {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
	default:
		return nil, fmt.Errorf("log format %q: want json or console", cfg.Format)
	}
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}
	return zc.Build(zap.Fields(zap.String("service", "linkplan")))
}
