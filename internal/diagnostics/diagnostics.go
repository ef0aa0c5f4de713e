// Package diagnostics wires the runtime's structured logging sink.
//
// Logging flows through log/slog: slog.Info/Warn/Error calls with a
// "component: message" prefix and structured key-value pairs. The
// only thing this package adds is an optional rotating file backing
// store for a second handler, so Core can mirror diagnostics to disk
// without replacing the process-wide default logger.
package diagnostics

import (
	"context"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSinkOptions configures the rotating file handler.
type FileSinkOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileSink returns a slog.Handler that writes JSON lines to a
// lumberjack-rotated file. Intended to be combined with the process's
// existing handler via a small fan-out, not used as a replacement for
// it.
func NewFileSink(opts FileSinkOptions) slog.Handler {
	var w io.Writer = &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return slog.NewJSONHandler(w, nil)
}

// fanOutHandler dispatches every record to more than one handler, used
// to keep the default process logger active alongside the rotating
// file sink.
type fanOutHandler struct {
	handlers []slog.Handler
}

// NewFanOut combines one or more handlers into a single slog.Handler
// that writes every record to all of them.
func NewFanOut(handlers ...slog.Handler) slog.Handler {
	return &fanOutHandler{handlers: handlers}
}

func (f *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanOutHandler{handlers: out}
}

func (f *fanOutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanOutHandler{handlers: out}
}
