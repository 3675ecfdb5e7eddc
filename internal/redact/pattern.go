// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package redact

import (
	"regexp"
	"strings"
)

// Pattern rewrites every match of a regular expression. Patterns catch
// value-deriving output such as session banners and home directory paths
// whose exact values are not known in advance.
type Pattern struct {
	Name        string
	Re          *regexp.Regexp
	Replacement string
}

func (p Pattern) apply(b []byte) []byte {
	if !p.Re.Match(b) {
		return b
	}
	return p.Re.ReplaceAll(b, []byte(p.Replacement))
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// DefaultPatterns returns the rules applied to every game's output: signed
// session JWTs, legacy session id banners and the user name component of
// home directory paths.
func DefaultPatterns(placeholder string) []Pattern {
	ph := escapeReplacement(placeholder)
	return []Pattern{
		{
			Name:        "signed-jwt",
			Re:          regexp.MustCompile(`(SignedJWT: )[^\s]+`),
			Replacement: "${1}" + ph,
		},
		{
			Name:        "session-id",
			Re:          regexp.MustCompile(`(Session ID is )token: ?[^\s)]+`),
			Replacement: "${1}" + ph,
		},
		{
			Name:        "access-token-arg",
			Re:          regexp.MustCompile(`(--accessToken[ =])[^\s]+`),
			Replacement: "${1}" + ph,
		},
		{
			Name:        "home-unix",
			Re:          regexp.MustCompile(`(/home/)[^/\s]+(/)`),
			Replacement: "${1}<user>${2}",
		},
		{
			Name:        "home-macos",
			Re:          regexp.MustCompile(`(/Users/)[^/\s]+(/)`),
			Replacement: "${1}<user>${2}",
		},
		{
			Name:        "home-windows",
			Re:          regexp.MustCompile(`(?i)([a-z]:\\Users\\)[^\\\s]+(\\)`),
			Replacement: "${1}<user>${2}",
		},
	}
}
