// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package errutil holds helpers shared by every package that reports coded
// oops errors.
package errutil

import "github.com/samber/oops"

// Code returns the error code carried by err, or "" for uncoded errors.
// Wrapped oops errors report the innermost code.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
