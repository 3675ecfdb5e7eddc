// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package instance

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/fanout"
)

// DefaultDebounce collapses bursts of manifest writes from editors.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads instance records when their instance.yaml is edited
// outside the launcher. The set of watched roots follows the registry.
type Watcher struct {
	reg      *Registry
	fs       *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	roots   map[string]string // root -> instance id
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a manifest watcher for r. debounce <= 0 selects
// DefaultDebounce.
func (r *Registry) NewWatcher(debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		reg:      r,
		fs:       fw,
		logger:   r.logger.With("component", "instance-watcher"),
		debounce: debounce,
		roots:    make(map[string]string),
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches every registered root and returns. It is a no-op when
// already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.resync(ctx); err != nil {
		w.logger.Warn("initial watch failed", "error", err)
	}

	var sub *fanout.Subscription[events.Event]
	if w.reg.bus != nil {
		sub = w.reg.bus.Subscribe()
	}
	go w.run(ctx, sub)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fs.Close(); err != nil {
		w.logger.Error("closing watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context, sub *fanout.Subscription[events.Event]) {
	defer close(w.doneCh)

	var changes <-chan events.Event
	if sub != nil {
		defer sub.Unsubscribe()
		changes = sub.C()
	}

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case e, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if e.Type == events.TypeInstanceListChanged {
				if err := w.resync(ctx); err != nil {
					w.logger.Warn("watch resync failed", "error", err)
				}
			}

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != ManifestFile {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.roots[filepath.Dir(event.Name)]; ok {
		w.pending[id] = time.Now()
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	now := time.Now()
	var due []string

	w.mu.Lock()
	for id, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			due = append(due, id)
			delete(w.pending, id)
		}
	}
	w.mu.Unlock()

	for _, id := range due {
		changed, err := w.reg.Sync(ctx, id)
		if err != nil {
			w.logger.Warn("ignoring manifest edit", "instance_id", id, "error", err)
			continue
		}
		if changed {
			w.logger.Info("instance reloaded from manifest", "instance_id", id)
		}
	}
}

// resync aligns the watched roots with the registry.
func (w *Watcher) resync(ctx context.Context) error {
	all, err := w.reg.List(ctx)
	if err != nil {
		return err
	}
	want := make(map[string]string, len(all))
	for _, inst := range all {
		want[inst.Root] = inst.ID
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for root := range w.roots {
		if _, ok := want[root]; !ok {
			_ = w.fs.Remove(root)
			delete(w.roots, root)
		}
	}
	for root, id := range want {
		if _, ok := w.roots[root]; ok {
			continue
		}
		if err := w.fs.Add(root); err != nil {
			w.logger.Warn("cannot watch instance root", "root", root, "error", err)
			continue
		}
		w.roots[root] = id
	}
	return nil
}

// Watched returns the number of instance roots being watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.roots)
}
