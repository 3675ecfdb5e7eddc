// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package launch

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/emberlaunch/ember/internal/fanout"
)

// Session is one running game process. It stays valid after the process
// exits so callers holding it can read the outcome.
type Session struct {
	InstanceID string
	AccountID  string
	StartedAt  time.Time
	LogPath    string

	hub  *fanout.Hub[[]byte]
	done chan struct{}

	mu            sync.Mutex
	pid           int
	process       *os.Process
	exited        bool
	stopRequested bool
	stopGrace     time.Duration
	forced        bool
	stopTimer     *time.Timer
	outcome       Outcome
}

func newSession(instanceID, accountID string, started time.Time) *Session {
	return &Session{
		InstanceID: instanceID,
		AccountID:  accountID,
		StartedAt:  started,
		hub:        fanout.New[[]byte](),
		done:       make(chan struct{}),
	}
}

// PID is the process id of the game, 0 before it started.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Subscribe returns the redacted output produced from now on. The channel is
// closed once the process exited and all output was delivered.
func (s *Session) Subscribe() *fanout.Subscription[[]byte] {
	return s.hub.Subscribe()
}

// Done is closed once the session ended and its outcome is known.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process exited.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, oops.With("instance_id", s.InstanceID).Wrapf(ctx.Err(), "waiting for instance to exit")
	}
}

// Outcome returns the outcome, or the zero Outcome while running.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// started records the spawned process. A stop requested before the spawn
// is carried out now.
func (s *Session) started(p *os.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = p
	s.pid = p.Pid
	if s.stopRequested {
		return s.signalStopLocked()
	}
	return nil
}

// markExited records that the process was reaped; no signal is sent after
// this.
func (s *Session) markExited() (forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = true
	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	return s.forced
}

// requestStop records a stop request and, once the process exists, sends
// the termination signal and arms the kill timer. Only the first call
// initiates the stop; a request made before the spawn is delivered by
// started.
func (s *Session) requestStop(grace time.Duration) (initiated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested || s.exited {
		return false, nil
	}
	s.stopRequested = true
	s.stopGrace = grace
	if s.process == nil {
		return true, nil
	}
	return true, s.signalStopLocked()
}

func (s *Session) signalStopLocked() error {
	if s.exited {
		return nil
	}
	s.stopTimer = time.AfterFunc(s.stopGrace, s.forceKill)
	return terminate(s.process)
}

func (s *Session) forceKill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return
	}
	delivered, _ := kill(s.process)
	if delivered {
		s.forced = true
	}
}

func (s *Session) finish(o Outcome) {
	s.mu.Lock()
	s.outcome = o
	s.mu.Unlock()
	close(s.done)
}
