package service

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger.
// Components take a named child: service.Logger.Sugar().Named("ingest").
var Logger = zap.NewNop()

// InitLogger builds the production zap logger at the given level.
func InitLogger(level string) error {
	config := zap.NewProductionConfig()

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	Logger = built
	zap.ReplaceGlobals(built)
	return nil
}

// Named returns a sugared child of Logger for one component.
func Named(component string) *zap.SugaredLogger {
	return Logger.Sugar().Named(component)
}
