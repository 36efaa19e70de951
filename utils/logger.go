package utils

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// baseLogger is handed to services for structured logging
	baseLogger *zap.Logger
	// sugar backs the printf-style helpers below
	sugar *zap.SugaredLogger
)

// InitLogger initializes the process logger. Production environments get JSON
// output, everything else the colored development encoder.
func InitLogger(env, level string) error {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	baseLogger = logger
	sugar = logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
	return nil
}

// GetLogger retrieves the process logger, building a development logger on first use
func GetLogger() *zap.Logger {
	if baseLogger == nil {
		if err := InitLogger("development", "debug"); err != nil {
			baseLogger = zap.NewNop()
			sugar = baseLogger.Sugar()
		}
	}
	return baseLogger
}

// SyncLogger flushes buffered log entries
func SyncLogger() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

func sugared() *zap.SugaredLogger {
	if sugar == nil {
		GetLogger()
	}
	return sugar
}

// LogInfo logs an informational message
func LogInfo(format string, v ...interface{}) {
	sugared().Infof(format, v...)
}

// LogError logs an error message
func LogError(format string, v ...interface{}) {
	sugared().Errorf(format, v...)
}

// LogDebug logs a debug message
func LogDebug(format string, v ...interface{}) {
	sugared().Debugf(format, v...)
}

// LogRequest logs HTTP request details
func LogRequest(method, path, ip, requestID string, status int, duration time.Duration) {
	GetLogger().Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("ip", ip),
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.Duration("duration", duration),
	)
}

// LogErrorWithStack logs an error with stack trace
func LogErrorWithStack(err error, stack []byte) {
	GetLogger().Error("panic recovered", zap.Error(err), zap.ByteString("stack", stack))
}
