package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "marine-weather-dashboard"

const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds the process logger. An empty format picks JSON in prod and text
// everywhere else.
func New(lvl, format string, addSource bool, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, lvl, format, addSource, environment)
}

func NewWithWriter(w io.Writer, lvl, format string, addSource bool, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(lvl),
		AddSource: addSource,
	}

	if format == "" && strings.ToLower(environment) == "prod" {
		format = FormatJSON
	}

	var handler slog.Handler
	if strings.ToLower(format) == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
	)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
