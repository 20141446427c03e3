// Package logging builds the process logger
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/claimgate/internal/model"
)

// New builds a zap logger from cfg. verbose forces debug level.
// Logs go to stderr so command output on stdout stays parseable.
func New(cfg model.LoggingConfig, verbose bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "json":
		zcfg = zap.NewProductionConfig()
	case "", "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build(zap.Fields(zap.String("service", "claimgate")))
}
