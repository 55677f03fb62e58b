package logging

import (
	stdlog "log"
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

// Plain loggers for startup code that runs before the structured logger
// is configured (and for fatal exits, which slog does not provide).
var (
	Info  = stdlog.New(os.Stderr, "INFO: ", stdlog.Ldate|stdlog.Ltime)
	Error = stdlog.New(os.Stderr, "ERROR: ", stdlog.Ldate|stdlog.Ltime)
)

func init() {
	// Default to INFO level
	InitLogger("info")
}

// InitLogger initializes the global logger with the specified level
func InitLogger(level string) {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// GetLogger returns the global logger instance
func GetLogger() *slog.Logger {
	return logger
}
