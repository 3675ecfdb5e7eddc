// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package logging builds the launcher's slog logger: JSON or text records
// stamped with the service, version and OpenTelemetry trace context, and
// optionally scrubbed of secrets.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Options configure New.
type Options struct {
	Service string
	Version string
	// Format is "text" or "json". Anything else means json.
	Format string
	// Level is one of debug, info, warn, error. Empty means debug.
	Level string
	// Scrubber, when set, rewrites messages and string attributes before
	// they reach the output.
	Scrubber Scrubber
}

// New returns a logger writing to w, or to stderr when w is nil.
func New(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(w, handlerOpts)
	} else {
		base = slog.NewJSONHandler(w, handlerOpts)
	}

	var h slog.Handler = &traceHandler{
		handler: base,
		stamp: []slog.Attr{
			slog.String("service", opts.Service),
			slog.String("version", opts.Version),
		},
	}
	if opts.Scrubber != nil {
		h = &scrubHandler{handler: h, scrubber: opts.Scrubber}
	}
	return slog.New(h)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to debug.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// traceHandler stamps every record with the service identity and, inside a
// span, its trace and span ids.
type traceHandler struct {
	handler slog.Handler
	stamp   []slog.Attr
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.stamp...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{handler: h.handler.WithAttrs(attrs), stamp: h.stamp}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{handler: h.handler.WithGroup(name), stamp: h.stamp}
}
