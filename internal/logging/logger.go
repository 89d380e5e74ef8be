package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger on stdout tagged with the application name.
// An invalid level string falls back to info.
func New(level, app string) *slog.Logger {
	return NewWithWriter(os.Stdout, level).With(slog.String("app", app))
}

// NewWithWriter is New without the app tag, writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
