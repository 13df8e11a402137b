// Package logger provides structured logging functionality for the
// application.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the application's logging system. It creates a
// structured JSON logger on stdout with the given level and sets it as
// the default logger.
//
// An unrecognized level falls back to info with a warning rather than
// failing startup.
func Setup(logLevel string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo

		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", logLevel,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}
