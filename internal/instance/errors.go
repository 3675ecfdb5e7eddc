// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"strings"

	"github.com/samber/oops"
)

// Error codes for registry failures.
const (
	CodeInvalidSpec            = "INVALID_INSTANCE_SPEC"
	CodeDirectoryConflict      = "DIRECTORY_CONFLICT"
	CodeMissingRuntime         = "MISSING_RUNTIME"
	CodeIncompleteInstallation = "INCOMPLETE_INSTALLATION"
	CodeNotFound               = "INSTANCE_NOT_FOUND"
	CodeBusy                   = "INSTANCE_BUSY"
	CodeStoreFailed            = "STORE_FAILED"
	CodeInvalidQuickPlay       = "INVALID_QUICK_PLAY"
)

// ErrInvalidSpec creates an error for a spec that fails validation.
func ErrInvalidSpec(cause error) error {
	return oops.Code(CodeInvalidSpec).Wrapf(cause, "invalid instance")
}

// ErrInvalidSpecf creates an error for a spec that fails validation.
func ErrInvalidSpecf(format string, args ...any) error {
	return oops.Code(CodeInvalidSpec).Errorf(format, args...)
}

// ErrDirectoryConflict creates an error for a root directory that cannot hold
// the instance.
func ErrDirectoryConflict(root, reason string) error {
	return oops.Code(CodeDirectoryConflict).
		With("root", root).
		Errorf("cannot use %s: %s", root, reason)
}

// ErrMissingRuntime creates an error for a Java executable that is not
// installed.
func ErrMissingRuntime(path, component string) error {
	b := oops.Code(CodeMissingRuntime).With("java", path)
	if component != "" {
		b = b.With("component", component)
		return b.Errorf("java runtime %s is not installed (%s)", component, path)
	}
	return b.Errorf("java executable %s does not exist", path)
}

// ErrIncompleteInstallation creates an error for missing game files.
func ErrIncompleteInstallation(version string, missing []string) error {
	shown := missing
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return oops.Code(CodeIncompleteInstallation).
		With("version", version).
		With("missing", missing).
		Errorf("installation of %s is incomplete, missing %d file(s): %s", version, len(missing), strings.Join(shown, ", "))
}

// ErrInvalidQuickPlay creates an error for an unusable quick play target.
func ErrInvalidQuickPlay(reason string) error {
	return oops.Code(CodeInvalidQuickPlay).Errorf("invalid quick play target: %s", reason)
}

// ErrNotFound creates an error for an unknown instance.
func ErrNotFound(id string) error {
	return oops.Code(CodeNotFound).
		With("instance_id", id).
		Errorf("instance %s not found", id)
}

// ErrBusy creates an error for an instance held by a launch session.
func ErrBusy(id string) error {
	return oops.Code(CodeBusy).
		With("instance_id", id).
		Errorf("instance %s is in use", id)
}

// ErrStore creates an error for a persistence failure.
func ErrStore(op string, cause error) error {
	return oops.Code(CodeStoreFailed).
		With("operation", op).
		Wrapf(cause, "instance store %s failed", op)
}
