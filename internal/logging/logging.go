package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config string onto a slog level. Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default slog logger writing to stderr.
func Setup(level string, json bool) *slog.Logger {
	return SetupWriter(os.Stderr, level, json)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Debug("logger initialized", "level", opts.Level, "json", json)
	return logger
}
