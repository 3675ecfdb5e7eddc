// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package launch

import "github.com/samber/oops"

// Error codes for orchestration failures.
const (
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeNotRunning     = "NOT_RUNNING"
	CodeSpawnFailed    = "SPAWN_FAILED"
	CodeClosed         = "ORCHESTRATOR_CLOSED"
	CodeGameFailed     = "GAME_FAILED"
)

// ErrAlreadyRunning creates an error for a second launch of a running
// instance.
func ErrAlreadyRunning(instanceID string) error {
	return oops.Code(CodeAlreadyRunning).
		With("instance_id", instanceID).
		Errorf("instance %s is already running", instanceID)
}

// ErrNotRunning creates an error for an instance with no launch session.
func ErrNotRunning(instanceID string) error {
	return oops.Code(CodeNotRunning).
		With("instance_id", instanceID).
		Errorf("instance %s is not running", instanceID)
}

// ErrSpawnFailed creates an error for a process that could not be started.
func ErrSpawnFailed(instanceID string, cause error) error {
	return oops.Code(CodeSpawnFailed).
		With("instance_id", instanceID).
		Wrapf(cause, "start instance %s", instanceID)
}

// ErrClosed creates an error for use after Close.
func ErrClosed() error {
	return oops.Code(CodeClosed).Errorf("launch orchestrator is closed")
}

// ErrGameFailed creates an error for a game that ended on its own with a
// non-zero or abnormal outcome.
func ErrGameFailed(instanceID string, o Outcome) error {
	return oops.Code(CodeGameFailed).
		With("instance_id", instanceID).
		With("outcome", string(o.Kind)).
		With("exit_code", o.ExitCode).
		Errorf("game %s", o)
}
