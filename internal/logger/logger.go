// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps a zap SugaredLogger so callers keep the printf-style API while output is
// structured (json) or human-readable (text).
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	defaultLogger *zap.SugaredLogger
)

// parseLevel maps a config level name onto a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	var cfg zap.Config
	if strings.ToLower(format) == "text" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a bare stderr core.
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), zapcore.Lock(os.Stderr), cfg.Level)
		l = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	defaultLogger = l.Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	if defaultLogger != nil {
		_ = defaultLogger.Sync()
	}
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
	}
}

// Fatal logs a message at FatalLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger == nil {
		Init("error", "text")
	}
	defaultLogger.Fatalf(format, args...)
}
