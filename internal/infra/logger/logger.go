// Package logger builds the process slog logger from the logger config section.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mavcam-bridge/internal/infra/config"
)

// New returns the logger and a closer for the log file, if one was opened.
// Debug logs carry the source position.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	var (
		w      io.Writer = os.Stderr
		closer           = func() error { return nil }
	)
	switch out := strings.ToLower(cfg.Output); out {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		w, closer = f, f.Close
	}
	return slog.New(newHandler(w, cfg)), closer, nil
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel accepts slog level names plus "warning". Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
