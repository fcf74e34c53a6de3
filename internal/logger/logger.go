package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger in prod and a text logger elsewhere. level
// overrides the environment default when it parses (debug, info, warn, error).
func New(env, level string) *slog.Logger {
	return newTo(os.Stdout, env, level)
}

func newTo(w io.Writer, env, level string) *slog.Logger {
	lvl := slog.LevelDebug
	if env == "prod" {
		lvl = slog.LevelInfo
	}
	if level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err == nil {
			lvl = l
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "cirqle-payments")
}
