// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package redact

import (
	"bytes"
	"sort"
	"time"
)

// RuleSet is an immutable snapshot of the active redaction rules.
type RuleSet struct {
	version     uint64
	values      [][]byte
	maxLen      int
	placeholder []byte
	patterns    []Pattern
	nextExpiry  time.Time
}

// Version identifies the snapshot; it increases with every change.
func (rs *RuleSet) Version() uint64 { return rs.version }

// MaxLen is the length of the longest exact secret.
func (rs *RuleSet) MaxLen() int { return rs.maxLen }

// Len is the number of exact secrets.
func (rs *RuleSet) Len() int { return len(rs.values) }

type span struct{ start, end int }

// spans returns the merged byte ranges of b covered by any occurrence of any
// exact secret. Overlapping occurrences of different secrets merge into one
// range so neither leaks a fragment.
func (rs *RuleSet) spans(b []byte) []span {
	var found []span
	for _, v := range rs.values {
		off := 0
		for off <= len(b)-len(v) {
			i := bytes.Index(b[off:], v)
			if i < 0 {
				break
			}
			start := off + i
			found = append(found, span{start, start + len(v)})
			off = start + 1
		}
	}
	if len(found) < 2 {
		return found
	}

	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })
	merged := found[:1]
	for _, s := range found[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Redact returns a copy of b with exact secrets replaced by the placeholder
// and pattern rules applied, along with the number of exact replacements.
func (rs *RuleSet) Redact(b []byte) ([]byte, int) {
	spans := rs.spans(b)
	out := make([]byte, 0, len(b))
	prev := 0
	for _, s := range spans {
		out = append(out, b[prev:s.start]...)
		out = append(out, rs.placeholder...)
		prev = s.end
	}
	out = append(out, b[prev:]...)
	for _, p := range rs.patterns {
		out = p.apply(out)
	}
	return out, len(spans)
}

// RedactString is Redact for strings.
func (rs *RuleSet) RedactString(s string) string {
	out, _ := rs.Redact([]byte(s))
	return string(out)
}

// safeCut returns the largest n <= limit such that b[:n] can be emitted
// without splitting any secret occurrence in b. The result is 0 when nothing
// can be emitted yet.
func (rs *RuleSet) safeCut(b []byte, limit int) int {
	if limit <= 0 {
		return 0
	}
	for _, s := range rs.spans(b) {
		if s.start < limit && limit < s.end {
			if s.start > 0 {
				return s.start
			}
			// The occurrence starts at the front and is complete, so it can
			// be emitted whole.
			return s.end
		}
	}
	return limit
}

// patternCut lowers cut so that no pattern match in b straddles it, and
// keeps the last hold bytes back so a match that has only begun is not
// split. A match reaching the end of b may still grow and is held whole.
// A candidate longer than hold whose pattern does not yet match can still
// be split.
func (rs *RuleSet) patternCut(b []byte, cut, hold int) int {
	if len(rs.patterns) == 0 {
		return cut
	}
	cut = min(cut, len(b)-hold)
	for moved := true; moved && cut > 0; {
		moved = false
		for _, p := range rs.patterns {
			for _, m := range p.Re.FindAllIndex(b, -1) {
				if m[0] < cut && (m[1] > cut || m[1] == len(b)) {
					cut = m[0]
					moved = true
				}
			}
		}
	}
	return max(cut, 0)
}

// flushCut is the largest prefix of b up to limit that splits neither an
// exact secret nor a pattern match.
func (rs *RuleSet) flushCut(b []byte, limit, hold int) int {
	cut := rs.safeCut(b, limit)
	for {
		next := rs.safeCut(b, rs.patternCut(b, cut, hold))
		if next >= cut {
			return cut
		}
		cut = next
	}
}
