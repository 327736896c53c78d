package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	level    = new(slog.LevelVar)
	levelSet bool
	format   = "text"
)

// Init installs the default logger on stderr. LOG_LEVEL selects the level
// (default error, so the CLI stays quiet) and LOG_FORMAT selects text or json.
func Init() {
	level.Set(slog.LevelError)
	levelSet = false
	if raw, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if l, ok := parseLevel(raw); ok {
			level.Set(l)
			levelSet = true
		}
	}
	format = "text"
	if raw, ok := os.LookupEnv("LOG_FORMAT"); ok && strings.EqualFold(strings.TrimSpace(raw), "json") {
		format = "json"
	}
	slog.SetDefault(slog.New(newHandler(os.Stderr)))
}

// DefaultLevel raises or lowers the level unless LOG_LEVEL chose one.
// Long-running commands such as the relay server want info logs by default.
func DefaultLevel(l slog.Level) {
	if !levelSet {
		level.Set(l)
	}
}

// ToFile redirects the default logger to path, for commands that own the
// terminal. Close the returned file on exit.
func ToFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	slog.SetDefault(slog.New(newHandler(f)))
	return f, nil
}

// Discard silences the default logger.
func Discard() {
	slog.SetDefault(slog.New(newHandler(io.Discard)))
}

func newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return 0, false
}
