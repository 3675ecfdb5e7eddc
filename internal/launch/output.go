// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package launch

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/fanout"
)

// maxLineLen bounds a single UI line; longer runs are split.
const maxLineLen = 16 << 10

// hubWriter publishes each redacted chunk to every output subscriber.
type hubWriter struct {
	hub *fanout.Hub[[]byte]
}

func (w hubWriter) Write(p []byte) (int, error) {
	w.hub.Publish(slices.Clone(p))
	return len(p), nil
}

// openLog creates the persisted log of one launch.
func openLog(dir string, started time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := "launch-" + started.UTC().Format("20060102T150405.000Z") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// writeLog persists redacted output until the subscription ends.
func writeLog(sub *fanout.Subscription[[]byte], f *os.File, logger *slog.Logger) {
	w := bufio.NewWriter(f)
	failed := false
	for chunk := range sub.C() {
		if failed {
			continue
		}
		if _, err := w.Write(chunk); err != nil {
			logger.Warn("launch log write failed", "path", f.Name(), "error", err)
			failed = true
			continue
		}
		if len(sub.C()) == 0 {
			_ = w.Flush()
		}
	}
	if !failed {
		if err := w.Flush(); err != nil {
			logger.Warn("launch log flush failed", "path", f.Name(), "error", err)
		}
	}
}

// publishLines splits redacted output into lines and emits them as UI events
// tagged with their severity.
func publishLines(sub *fanout.Subscription[[]byte], bus *events.Bus, instanceID string) {
	var partial bytes.Buffer
	emit := func(line string) {
		line = strings.TrimRight(line, "\r")
		bus.Output(events.OutputLine{
			InstanceID: instanceID,
			Text:       line,
			Level:      events.ClassifyLine(line),
		})
	}

	for chunk := range sub.C() {
		partial.Write(chunk)
		for {
			i := bytes.IndexByte(partial.Bytes(), '\n')
			if i < 0 {
				break
			}
			emit(string(partial.Next(i + 1)[:i]))
		}
		for partial.Len() >= maxLineLen {
			emit(string(partial.Next(maxLineLen)))
		}
	}
	if partial.Len() > 0 {
		emit(partial.String())
	}
}

// copyOutput feeds the child's output into dst until EOF or until the read
// deadline set after exit passes.
func copyOutput(dst io.Writer, src *os.File) error {
	_, err := io.Copy(dst, src)
	if err == nil || isClosedPipe(err) {
		return nil
	}
	return err
}

func isClosedPipe(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, os.ErrClosed)
}
