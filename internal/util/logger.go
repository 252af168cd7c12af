package util

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger

	fallback     *zap.Logger
	fallbackOnce sync.Once
)

// InitLogger initializes the global logger. level overrides the env default
// when it parses as a zap level ("debug", "info", ...).
func InitLogger(env, level string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	built, err := config.Build(zap.Fields(zap.String("env", env)))
	if err != nil {
		return err
	}
	logger = built

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger, or a development logger before InitLogger
func GetLogger() *zap.Logger {
	if logger != nil {
		return logger
	}
	fallbackOnce.Do(func() {
		fallback, _ = zap.NewDevelopment()
	})
	return fallback
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
