// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package events is the ordered UI event channel. Every event carries a
// sequence number assigned at publish time; all subscribers observe events in
// that order, and subscribers may join or leave at any time.
package events

import (
	"sync"
	"time"

	"github.com/emberlaunch/ember/internal/fanout"
)

// Type identifies the kind of event.
type Type string

// Event types.
const (
	TypeOutputLine          Type = "output_line"
	TypeProcessStateChanged Type = "process_state_changed"
	TypeInstanceListChanged Type = "instance_list_changed"
	TypeAccountsChanged     Type = "accounts_changed"
)

// Level is the severity of an output line.
type Level string

// Output levels. Lines without structured markup are LevelInfo.
const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// ProcessState is the lifecycle position of a launched instance.
type ProcessState string

// Process states.
const (
	StateRunning  ProcessState = "running"
	StateStopping ProcessState = "stopping"
	StateExited   ProcessState = "exited"
)

// OutputLine is one redacted line of game output.
type OutputLine struct {
	InstanceID string `json:"instance_id"`
	Text       string `json:"text"`
	Level      Level  `json:"level"`
}

// ProcessStateChange reports a launch state transition. Outcome and ExitCode
// are set only for StateExited.
type ProcessStateChange struct {
	InstanceID string       `json:"instance_id"`
	State      ProcessState `json:"state"`
	PID        int          `json:"pid,omitempty"`
	Outcome    string       `json:"outcome,omitempty"`
	ExitCode   int          `json:"exit_code,omitempty"`
	Signal     string       `json:"signal,omitempty"`
}

// Event is one UI event. Exactly one payload field is set, matching Type.
type Event struct {
	Seq     uint64              `json:"seq"`
	Time    time.Time           `json:"time"`
	Type    Type                `json:"type"`
	Output  *OutputLine         `json:"output,omitempty"`
	Process *ProcessStateChange `json:"process,omitempty"`
}

// Bus is the UI event channel.
type Bus struct {
	mu  sync.Mutex
	seq uint64
	now func() time.Time
	hub *fanout.Hub[Event]
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{now: time.Now, hub: fanout.New[Event]()}
}

// Subscribe joins the channel. Only events published afterwards are seen.
func (b *Bus) Subscribe() *fanout.Subscription[Event] {
	return b.hub.Subscribe()
}

// Publish assigns the next sequence number and delivers e.
func (b *Bus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.hub.Publish(e)
	return e
}

// Output publishes an OutputLine event.
func (b *Bus) Output(line OutputLine) {
	b.Publish(Event{Type: TypeOutputLine, Output: &line})
}

// ProcessChanged publishes a ProcessStateChanged event.
func (b *Bus) ProcessChanged(change ProcessStateChange) {
	b.Publish(Event{Type: TypeProcessStateChanged, Process: &change})
}

// InstancesChanged publishes an InstanceListChanged event.
func (b *Bus) InstancesChanged() {
	b.Publish(Event{Type: TypeInstanceListChanged})
}

// AccountsChanged publishes an AccountsChanged event.
func (b *Bus) AccountsChanged() {
	b.Publish(Event{Type: TypeAccountsChanged})
}

// Close ends the channel; subscribers drain and then see their channel closed.
func (b *Bus) Close() {
	b.hub.Close()
}
