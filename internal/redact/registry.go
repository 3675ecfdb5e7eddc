// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package redact

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPlaceholder replaces every redacted secret.
const DefaultPlaceholder = "[REDACTED]"

// MinSecretLen is the shortest value accepted as an exact secret. Shorter
// values would rewrite ordinary output.
const MinSecretLen = 4

// Registry is the live secret set. Every change produces a new immutable
// RuleSet with a higher version; filters read the newest one on each write.
type Registry struct {
	mu          sync.Mutex
	placeholder string
	now         func() time.Time
	live        map[string]int
	retiring    map[string]time.Time
	patterns    []Pattern
	version     uint64

	current atomic.Pointer[RuleSet]
}

// Option configures a Registry.
type Option func(*Registry)

// WithPlaceholder sets the replacement for exact secrets.
func WithPlaceholder(p string) Option {
	return func(r *Registry) { r.placeholder = p }
}

// WithClock sets the time source used for grace windows.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPatterns adds pattern rules.
func WithPatterns(patterns ...Pattern) Option {
	return func(r *Registry) { r.patterns = append(r.patterns, patterns...) }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		placeholder: DefaultPlaceholder,
		now:         time.Now,
		live:        make(map[string]int),
		retiring:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.rebuildLocked()
	return r
}

// splitSecret turns a value into the exact fragments to match. Output is
// scanned line by line, so multi-line values are matched per line.
func splitSecret(v string) []string {
	var parts []string
	for _, line := range strings.Split(v, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if len(line) < MinSecretLen {
			if line != "" {
				slog.Debug("secret fragment too short to redact", "length", len(line))
			}
			continue
		}
		parts = append(parts, line)
	}
	return parts
}

// Publish adds values to the live set. Values are reference counted: a value
// published twice stays live until retired twice.
func (r *Registry) Publish(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, v := range values {
		for _, part := range splitSecret(v) {
			if r.live[part] == 0 {
				changed = true
			}
			r.live[part]++
			delete(r.retiring, part)
		}
	}
	if changed {
		r.rebuildLocked()
	}
}

// Retire releases values. Once a value has no remaining publishers it stays
// redacted for grace so output buffered before the rotation is still covered.
func (r *Registry) Retire(grace time.Duration, values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	changed := false
	for _, v := range values {
		for _, part := range splitSecret(v) {
			n, ok := r.live[part]
			if !ok {
				continue
			}
			if n > 1 {
				r.live[part] = n - 1
				continue
			}
			delete(r.live, part)
			changed = true
			if grace > 0 {
				r.retiring[part] = now.Add(grace)
			}
		}
	}
	if changed {
		r.rebuildLocked()
	}
}

// AddPattern adds a pattern rule.
func (r *Registry) AddPattern(p Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, p)
	r.rebuildLocked()
}

// Snapshot returns the current rule set, purging retired values whose grace
// window has passed.
func (r *Registry) Snapshot() *RuleSet {
	rs := r.current.Load()
	if rs.nextExpiry.IsZero() || r.now().Before(rs.nextExpiry) {
		return rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	purged := false
	for v, deadline := range r.retiring {
		if !now.Before(deadline) {
			delete(r.retiring, v)
			purged = true
		}
	}
	if purged {
		r.rebuildLocked()
	}
	return r.current.Load()
}

// Version returns the current rule set version.
func (r *Registry) Version() uint64 {
	return r.Snapshot().Version()
}

// ScrubString redacts s with the current rule set.
func (r *Registry) ScrubString(s string) string {
	return r.Snapshot().RedactString(s)
}

func (r *Registry) rebuildLocked() {
	r.version++

	values := make([]string, 0, len(r.live)+len(r.retiring))
	for v := range r.live {
		values = append(values, v)
	}
	var next time.Time
	for v, deadline := range r.retiring {
		values = append(values, v)
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	sort.Slice(values, func(i, j int) bool {
		if len(values[i]) != len(values[j]) {
			return len(values[i]) > len(values[j])
		}
		return values[i] < values[j]
	})

	rs := &RuleSet{
		version:     r.version,
		placeholder: []byte(r.placeholder),
		patterns:    append([]Pattern(nil), r.patterns...),
		nextExpiry:  next,
	}
	for _, v := range values {
		rs.values = append(rs.values, []byte(v))
		if len(v) > rs.maxLen {
			rs.maxLen = len(v)
		}
	}
	r.current.Store(rs)
}
