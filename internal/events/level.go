// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package events

import (
	"regexp"
	"strings"
)

var (
	log4jEventLevel = regexp.MustCompile(`<log4j:Event\b[^>]*\blevel="([A-Z]+)"`)
	bracketLevel    = regexp.MustCompile(`\[[^\]]*/(TRACE|DEBUG|INFO|WARN|ERROR|FATAL)\]`)
)

// ClassifyLine derives the severity of a raw game output line. The game
// writes either log4j XML events or plain "[thread/LEVEL]" lines; crash
// reports are always fatal.
func ClassifyLine(line string) Level {
	if strings.Contains(line, "Crash Report") {
		return LevelFatal
	}
	if m := log4jEventLevel.FindStringSubmatch(line); m != nil {
		return levelFromName(m[1])
	}
	if m := bracketLevel.FindStringSubmatch(line); m != nil {
		return levelFromName(m[1])
	}
	return LevelInfo
}

func levelFromName(name string) Level {
	switch name {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}
