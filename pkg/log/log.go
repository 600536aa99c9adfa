// Package log configures the process-wide slog logger shared by the flowrun binaries.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs a text logger on stderr as the slog default.
func Setup(level string) {
	slog.SetDefault(New(os.Stderr, level))
}

func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel accepts debug, info, warn and error in any case. Anything else is info.
func ParseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}

	return parsed
}

// WithModule returns the default logger tagged with module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
