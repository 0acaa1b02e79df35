// Package logging holds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// L is the default logger of the application
	L *zap.Logger
)

func init() {
	// Replaced when InitializeLogger is called
	L, _ = zap.NewProduction(zap.WithCaller(false))
}

// Encodings accepted by InitializeLogger.
const (
	EncodingJSON    = "json"
	EncodingConsole = "console"
)

// InitializeLogger rebuilds L with the given level and encoding. An empty
// encoding means JSON.
func InitializeLogger(logLevel, encoding string) error {
	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.DisableCaller = true
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(encoding) {
	case "", EncodingJSON:
	case EncodingConsole:
		config.Encoding = EncodingConsole
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid log encoding '%s': supported encodings are: json, console", encoding)
	}

	logger, err := config.Build(zap.Fields(zap.String("service", "mokzi")))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	L = logger
	return nil
}

// Named returns a child of L scoped to a component, e.g. "decider" or "discover".
func Named(component string) *zap.Logger {
	return L.Named(component)
}

// Sync flushes buffered entries of L.
func Sync() {
	_ = L.Sync()
}

// ParseLogLevel converts string log level to zapcore.Level
func ParseLogLevel(logLevel string) (zapcore.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("supported levels are: debug, info, warn, error, fatal")
	}
}
