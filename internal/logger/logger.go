package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// L is the process-wide logger. Init replaces it.
var L = slog.Default()

// Init configures L from the log level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func Init(level, format string) {
	L = New(os.Stderr, level, format)
	slog.SetDefault(L)
}

func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
