// Package logging configures runtime logging output: a JSONL file sink for
// durable records plus a tint-colorized console sink for interactive runs.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
)

// Runtime bundles the configured logger and its open file handle lifecycle.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close flushes and closes the logger's file sink.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Options controls console verbosity. Quiet silences the console sink
// entirely (used by the ipc client, which must not interleave log lines
// with its own stdout) while the file sink keeps recording at full detail.
type Options struct {
	Level slog.Level
	Quiet bool
}

// New builds a logger that writes structured JSON lines to the resolved
// state-directory log file and, unless Quiet, fans the same records out to
// a tint-colorized console handler at the requested level.
func New(opts Options) (Runtime, error) {
	path, err := resolveLogPath()
	if err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Runtime{}, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Runtime{}, err
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})

	var handler slog.Handler = fileHandler
	if !opts.Quiet {
		console := tint.NewHandler(os.Stderr, &tint.Options{Level: opts.Level})
		handler = fanOutHandler{handlers: []slog.Handler{fileHandler, console}}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return Runtime{Logger: logger, Path: path, closer: f}, nil
}

// fanOutHandler dispatches every record to each of its handlers in turn.
// slog ships no multi-writer handler, and nothing in the retrieved pack
// combines a file and console sink in one logger either (the closest
// reference picks one handler per run); a handler this small isn't worth
// pulling in a dependency for.
type fanOutHandler struct {
	handlers []slog.Handler
}

func (f fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanOutHandler{handlers: next}
}

func (f fanOutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanOutHandler{handlers: next}
}

// resolveLogPath selects XDG_STATE_HOME when available, otherwise ~/.local/state.
func resolveLogPath() (string, error) {
	dir, err := ResolveLogDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "log.jsonl"), nil
}

// ResolveLogDir returns the state directory the logger and doctor both
// root their files under, without requiring a doctor run to actually open
// the log file.
func ResolveLogDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "gradi-mediation"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "gradi-mediation"), nil
}
