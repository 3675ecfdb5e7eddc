// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package launch

import (
	"fmt"
	"time"
)

// OutcomeKind classifies how a game process ended.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeClean    OutcomeKind = "clean"
	OutcomeNonZero  OutcomeKind = "non_zero"
	OutcomeAbnormal OutcomeKind = "abnormal"
)

// Outcome is the result of one launch session.
type Outcome struct {
	Kind OutcomeKind
	// ExitCode is the process exit status, -1 when it was killed by a
	// signal.
	ExitCode int
	// Signal names the terminating signal of an abnormal exit.
	Signal string
	// Forced is set when the process had to be killed after the stop grace.
	Forced    bool
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is how long the process ran.
func (o Outcome) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeClean:
		return "exited cleanly"
	case OutcomeNonZero:
		return fmt.Sprintf("exited with code %d", o.ExitCode)
	default:
		if o.Forced {
			return "killed after stop timeout"
		}
		if o.Signal != "" {
			return "terminated by " + o.Signal
		}
		return "terminated abnormally"
	}
}

// classify maps a process exit onto an outcome kind.
func classify(exitCode int, signal string, forced bool) OutcomeKind {
	switch {
	case forced || signal != "" || exitCode < 0:
		return OutcomeAbnormal
	case exitCode == 0:
		return OutcomeClean
	default:
		return OutcomeNonZero
	}
}
