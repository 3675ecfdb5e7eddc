// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package logging

import (
	"context"
	"log/slog"
)

// Scrubber removes secret material from a string.
type Scrubber interface {
	ScrubString(s string) string
}

// ScrubberFunc adapts a function to Scrubber.
type ScrubberFunc func(string) string

// ScrubString implements Scrubber.
func (f ScrubberFunc) ScrubString(s string) string { return f(s) }

// scrubHandler rewrites the message and every string-valued attribute of a
// record before passing it on. Attributes added through WithAttrs are scrubbed
// once at that point.
type scrubHandler struct {
	handler  slog.Handler
	scrubber Scrubber
}

func (h *scrubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *scrubHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.scrubber.ScrubString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.scrubAttr(a))
		return true
	})
	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, out)
}

func (h *scrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrubAttr(a)
	}
	return &scrubHandler{handler: h.handler.WithAttrs(scrubbed), scrubber: h.scrubber}
}

func (h *scrubHandler) WithGroup(name string) slog.Handler {
	return &scrubHandler{handler: h.handler.WithGroup(name), scrubber: h.scrubber}
}

func (h *scrubHandler) scrubAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrubber.ScrubString(v.String()))
	case slog.KindGroup:
		group := v.Group()
		scrubbed := make([]any, len(group))
		for i, ga := range group {
			scrubbed[i] = h.scrubAttr(ga)
		}
		return slog.Group(a.Key, scrubbed...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.scrubber.ScrubString(err.Error()))
		}
		return slog.Attr{Key: a.Key, Value: v}
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}
