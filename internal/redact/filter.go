// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package redact removes secrets from streamed output before it reaches any
// persistent or visible sink.
//
// A Registry holds the live secret set as versioned immutable rule sets. A
// Filter is a streaming writer that buffers just enough trailing bytes to
// catch a secret split across writes, emits everything else redacted, and
// drops output it cannot confirm is clean.
package redact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Default filter windows.
const (
	DefaultLineWindow  = 4 << 10
	DefaultHardWindow  = 64 << 10
	DefaultPatternHold = 256
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("redact: filter closed")

// FilterOptions tune a Filter.
type FilterOptions struct {
	// LineWindow is how many bytes of an unterminated line are held before
	// the safe prefix is flushed.
	LineWindow int
	// HardWindow is the most that is ever held. Output that cannot be
	// confirmed clean within it is dropped.
	HardWindow int
	// PatternHold is how many trailing bytes of an unterminated line stay
	// held while pattern rules are active, so a pattern match cut by the
	// line window is still seen whole. Matches whose start lies further
	// back than this and that have not matched yet are not protected.
	PatternHold int
	// Source labels metrics.
	Source string
}

// Filter is a streaming redactor. Writes are safe for concurrent use; the
// redacted stream preserves write order.
type Filter struct {
	mu      sync.Mutex
	reg     *Registry
	dst     io.Writer
	opts    FilterOptions
	pending []byte
	closed  bool
	dropped int64
}

// NewFilter creates a Filter writing redacted output to dst.
func NewFilter(reg *Registry, dst io.Writer, opts FilterOptions) *Filter {
	if opts.LineWindow <= 0 {
		opts.LineWindow = DefaultLineWindow
	}
	if opts.HardWindow < opts.LineWindow {
		opts.HardWindow = DefaultHardWindow
		if opts.HardWindow < opts.LineWindow {
			opts.HardWindow = opts.LineWindow
		}
	}
	if opts.PatternHold <= 0 {
		opts.PatternHold = DefaultPatternHold
	}
	if opts.Source == "" {
		opts.Source = "unknown"
	}
	return &Filter{reg: reg, dst: dst, opts: opts}
}

// Write consumes raw output. It reports len(p) unless the filter is closed
// or the destination fails.
func (f *Filter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	f.pending = append(f.pending, p...)

	// Rules are read per write so a secret published while bytes are still
	// pending applies to them.
	rs := f.reg.Snapshot()

	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		if err := f.emit(rs, f.pending[:i+1]); err != nil {
			return 0, err
		}
		f.consume(i + 1)
	}

	if len(f.pending) > f.opts.LineWindow {
		keep := max(rs.MaxLen()-1, 0)
		cut := rs.flushCut(f.pending, len(f.pending)-keep, f.opts.PatternHold)
		if cut > 0 {
			if err := f.emit(rs, f.pending[:cut]); err != nil {
				return 0, err
			}
			f.consume(cut)
		}
	}

	if len(f.pending) > f.opts.HardWindow {
		if err := f.drop(); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Flush emits everything held, redacted with the current rules.
func (f *Filter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

// Close flushes and rejects further writes. It does not close the
// destination.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.flushLocked()
}

// Dropped reports how many bytes were withheld because they could not be
// confirmed clean.
func (f *Filter) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Buffered reports how many bytes are held awaiting more input.
func (f *Filter) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Filter) flushLocked() error {
	if len(f.pending) == 0 {
		return nil
	}
	err := f.emit(f.reg.Snapshot(), f.pending)
	f.pending = f.pending[:0]
	return err
}

func (f *Filter) consume(n int) {
	f.pending = append(f.pending[:0], f.pending[n:]...)
}

func (f *Filter) emit(rs *RuleSet, b []byte) error {
	out, n := rs.Redact(b)
	if n > 0 {
		replacements.WithLabelValues(f.opts.Source).Add(float64(n))
	}
	if _, err := f.dst.Write(out); err != nil {
		return fmt.Errorf("write redacted output: %w", err)
	}
	return nil
}

func (f *Filter) drop() error {
	n := len(f.pending)
	f.pending = f.pending[:0]
	f.dropped += int64(n)
	droppedBytes.WithLabelValues(f.opts.Source).Add(float64(n))

	marker := fmt.Sprintf("[%d bytes withheld: could not confirm redaction]\n", n)
	if _, err := io.WriteString(f.dst, marker); err != nil {
		return fmt.Errorf("write drop marker: %w", err)
	}
	return nil
}

// WriterFunc adapts a function to io.Writer.
type WriterFunc func(p []byte) (int, error)

// Write implements io.Writer.
func (fn WriterFunc) Write(p []byte) (int, error) { return fn(p) }
