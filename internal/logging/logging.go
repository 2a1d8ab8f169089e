// Package logging configures the module's structured logger: a
// slog.Logger backed by tint for colorized, human-readable console
// output. Colour is turned off only by Options.NoColor; the output is not
// checked for being a terminal.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures New.
type Options struct {
	Level     slog.Level
	Output    io.Writer
	NoColor   bool
	AddSource bool
}

// New builds a slog.Logger using tint's handler. A zero Options value
// produces an Info-level, colorized logger writing to stderr.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	handler := tint.NewHandler(opts.Output, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.Kitchen,
		NoColor:    opts.NoColor,
		AddSource:  opts.AddSource,
	})
	return slog.New(handler)
}

type ctxKey struct{}

// WithLogger attaches logger to ctx for retrieval by FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached via WithLogger, or
// slog.Default() if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
