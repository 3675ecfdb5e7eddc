// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// Attrs returns slog key/value pairs describing err. Coded errors also carry
// their code and oops context.
func Attrs(err error) []any {
	attrs := []any{"error", err.Error()}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return attrs
	}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// LogError logs err at error level. extra is appended after the error
// attributes.
func LogError(logger *slog.Logger, msg string, err error, extra ...any) {
	logger.Error(msg, append(Attrs(err), extra...)...)
}
