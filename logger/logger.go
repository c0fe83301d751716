// Package logger builds the host's structured logger from the Logging
// section of the config document and threads a per-request id through the
// monitoring surface's log lines.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Config mirrors the Logging config section.
type Config struct {
	// Level is the minimum severity: debug, info, warn, or error.
	Level string

	// Format selects the handler: "text" for operators reading a
	// terminal or a flat file, "json" for log shippers.
	Format string

	// Output is "stdout", "stderr", or a file path. The file is appended
	// to, matching how a service manager rotates around a long-running
	// process.
	Output string

	// AddSource includes file:line on every record.
	AddSource bool
}

// DefaultConfig is the logger used before configuration is loaded.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stdout"}
}

// New builds a slog.Logger per cfg and installs it as the process default,
// so stray slog.Info calls in third-party code land in the same stream.
func New(cfg Config) (*slog.Logger, error) {
	// The writer lives for the whole process; a file destination is never
	// closed, matching how the host exits.
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	log, err := NewWithWriter(cfg, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

// NewWithWriter is New with the destination fixed by the caller and the
// process default left alone. Used by tests to capture output.
func NewWithWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(&requestIDHandler{Handler: handler}), nil
}

// ParseLevel maps a config level name onto slog's scale.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logger: unknown level %q (want debug, info, warn, or error)", name)
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open output %q: %w", output, err)
	}
	return f, nil
}
