// Package logger wires slog up so that attributes attached to a context
// (run id, trigger, feed name) show up on every record logged under it.
package logger

import (
	"context"
	"io"
	"log/slog"
)

type ctxKey struct{}

// New builds the process logger. Format is either "text" or "json";
// anything else falls back to text.
func New(w io.Writer, format string) *slog.Logger {
	var handler slog.Handler = slog.NewTextHandler(w, nil)
	if format == "json" {
		handler = slog.NewJSONHandler(w, nil)
	}

	return slog.New(contextHandler{Handler: handler})
}

// contextHandler decorates a base handler with any attributes stashed in the
// context by [With].
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

// With attaches attributes to the context so they are logged on every record
// produced under it.
func With(ctx context.Context, toAppend ...slog.Attr) context.Context {
	attrs, _ := ctx.Value(ctxKey{}).([]slog.Attr)
	attrs = append(attrs[:len(attrs):len(attrs)], toAppend...)

	return context.WithValue(ctx, ctxKey{}, attrs)
}
