package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
}

// Logger wraps slog.Logger with secure logging practices
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// convertLogLevel converts our LogLevel to slog.Level
func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return // Suppress non-error output in quiet mode
	}
	l.logger.Info(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// InfoContext logs an informational message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.InfoContext(ctx, msg, args...)
}

// LogCall logs a completed device RPC call.
// Never logs credentials or request payloads: config documents can carry
// broker passwords.
func (l *Logger) LogCall(address, method string, status int, duration time.Duration, attempt int) {
	l.Info("rpc call completed",
		"device", address,
		"method", method,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"attempt", attempt,
	)
}

// LogCallError logs a failed device RPC call
func (l *Logger) LogCallError(address, method string, err error, attempt int) {
	l.Error("rpc call failed",
		"device", address,
		"method", method,
		"error", err.Error(),
		"attempt", attempt,
	)
}

// LogRetry logs retry attempt information
func (l *Logger) LogRetry(address string, attempt int, backoff time.Duration, reason string) {
	l.Info("retrying device",
		"device", address,
		"attempt", attempt,
		"backoff_ms", backoff.Milliseconds(),
		"reason", reason,
	)
}

// LogFleetStart logs the start of a fleet run
func (l *Logger) LogFleetStart(operation string, deviceCount, concurrency, retries int) {
	l.Info("fleet run started",
		"operation", operation,
		"device_count", deviceCount,
		"concurrency", concurrency,
		"max_retries", retries,
	)
}

// LogFleetComplete logs the completion of a fleet run
func (l *Logger) LogFleetComplete(operation string, deviceCount, succeeded, failed int, duration time.Duration) {
	l.Info("fleet run completed",
		"operation", operation,
		"device_count", deviceCount,
		"succeeded", succeeded,
		"failed", failed,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// LogDeviceListLoad logs address-list loading information
func (l *Logger) LogDeviceListLoad(source string, count int) {
	l.Info("device list loaded",
		"source", source,
		"count", count,
	)
}

// LogDeviceListError logs address-list loading errors
func (l *Logger) LogDeviceListError(source string, err error) {
	l.Error("device list loading failed",
		"source", source,
		"error", err.Error(),
	)
}

// IsQuiet returns whether the logger is in quiet mode
func (l *Logger) IsQuiet() bool {
	return l.config.Quiet
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool) *Logger {
	var level LogLevel
	switch logLevel {
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	default:
		format = FormatText
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
	})
}
