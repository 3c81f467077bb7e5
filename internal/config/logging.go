package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the server logger: human-readable text on stderr fanned
// out with JSON lines appended to logFile. The returned func closes the file.
// When the file cannot be opened the logger degrades to stderr only.
func SetupLogger(logFile string, level slog.Level) (*slog.Logger, func() error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("log file unavailable, logging to stderr only", "file", logFile, "error", err)
		return slog.New(newTextHandler(os.Stderr, level)), func() error { return nil }
	}

	logger := SetupLoggerWithWriters(os.Stderr, file, level)
	return logger, file.Close
}

// SetupLoggerWithWriters is SetupLogger with the two destinations injected.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		newTextHandler(stderr, level),
		slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
	))
}

func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
