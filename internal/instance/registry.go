// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package instance is the registry of game instances: isolated game
// directories with their launch settings. It persists records in the
// durable store, mirrors each one to an instance.yaml manifest inside the
// instance root, and resolves a record into a concrete launch plan.
package instance

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/internal/xdg"
	"github.com/emberlaunch/ember/pkg/errutil"
)

// Defaults are launcher-wide launch settings applied under every instance's
// own overrides.
type Defaults struct {
	// Java is used when an instance has no java override. Empty selects the
	// bundled runtime for the game version.
	Java    string
	Memory  Memory
	JVMArgs []string
}

// Options configures a Registry. Store is required.
type Options struct {
	Store    *store.Store
	Layout   xdg.Layout
	Defaults Defaults
	Events   *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	// RemoveFiles also removes the instance root directory.
	RemoveFiles bool
}

// Registry is the instance registry.
type Registry struct {
	db       *store.Store
	layout   xdg.Layout
	defaults Defaults
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time
	platform platform

	// claims serializes operations that bind a root directory to an id.
	claims   sync.Mutex
	reserved *reservations
}

// New creates a Registry.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("instance registry requires a store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Defaults.Memory == (Memory{}) {
		opts.Defaults.Memory = DefaultMemory()
	}
	return &Registry{
		db:       opts.Store,
		layout:   opts.Layout,
		defaults: opts.Defaults,
		bus:      opts.Events,
		logger:   opts.Logger.With("component", "instance"),
		now:      opts.Now,
		platform: currentPlatform(),
		reserved: newReservations(),
	}, nil
}

func recordKey(id string) string {
	return store.PrefixInstance + id
}

// Create registers a new instance and lays out its directory.
func (r *Registry) Create(ctx context.Context, spec Spec) (*Instance, error) {
	if spec.Loader == "" {
		spec.Loader = LoaderVanilla
	}
	if spec.Launch.Memory == (Memory{}) {
		spec.Launch.Memory = r.defaults.Memory
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}

	id := NewID()
	root := spec.Root
	if root == "" {
		root = filepath.Join(r.layout.Instances(), id)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, ErrInvalidSpec(err)
	}

	now := r.now().UTC()
	inst := &Instance{
		ID:        id,
		Name:      spec.Name,
		Version:   spec.Version,
		Loader:    spec.Loader,
		Root:      root,
		Launch:    spec.Launch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	r.claims.Lock()
	defer r.claims.Unlock()

	if err := r.checkRootUnclaimed(ctx, root, ""); err != nil {
		return nil, err
	}
	created, err := checkRootUsable(root)
	if err != nil {
		return nil, err
	}
	if err := r.persist(ctx, inst); err != nil {
		if created {
			_ = os.RemoveAll(root)
		}
		return nil, err
	}

	r.logger.Info("instance created", "instance_id", id, "name", inst.Name, "version", inst.Version)
	r.changed()
	return inst.Clone(), nil
}

// Import registers an existing instance directory from its manifest. A
// directory already registered under the manifest's id is returned as is.
func (r *Registry) Import(ctx context.Context, dir string) (*Instance, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, ErrInvalidSpec(err)
	}
	m, err := ReadManifest(root)
	if err != nil {
		return nil, ErrInvalidSpec(err)
	}

	r.claims.Lock()
	defer r.claims.Unlock()

	if m.ID != "" {
		if existing, err := r.Get(ctx, m.ID); err == nil && existing.Root == root {
			return existing, nil
		}
	}
	if err := r.checkRootUnclaimed(ctx, root, ""); err != nil {
		return nil, err
	}

	id := m.ID
	if _, err := ParseID(id); err != nil || r.exists(ctx, id) {
		id = NewID()
	}
	now := r.now().UTC()
	inst := &Instance{ID: id, Root: root, CreatedAt: now, UpdatedAt: now}
	m.Apply(inst)
	if inst.Loader == "" {
		inst.Loader = LoaderVanilla
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	if err := r.persist(ctx, inst); err != nil {
		return nil, err
	}

	r.logger.Info("instance imported", "instance_id", id, "root", root)
	r.changed()
	return inst.Clone(), nil
}

// persist lays out the directory, writes the manifest and stores the record.
func (r *Registry) persist(ctx context.Context, inst *Instance) error {
	for _, dir := range []string{inst.Root, inst.GameDir(), inst.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ErrDirectoryConflict(inst.Root, err.Error())
		}
	}
	if err := WriteManifest(inst.Root, ManifestOf(inst)); err != nil {
		return ErrDirectoryConflict(inst.Root, err.Error())
	}
	if err := r.db.Put(ctx, recordKey(inst.ID), inst); err != nil {
		return ErrStore("write", err)
	}
	return nil
}

// checkRootUnclaimed fails when another instance already uses root.
func (r *Registry) checkRootUnclaimed(ctx context.Context, root, self string) error {
	all, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID != self && filepath.Clean(other.Root) == root {
			return ErrDirectoryConflict(root, "directory belongs to instance "+other.Name)
		}
	}
	return nil
}

// checkRootUsable accepts an absent or empty directory, or one holding a
// valid instance manifest. It reports whether the directory did not exist.
func checkRootUsable(root string) (bool, error) {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, ErrDirectoryConflict(root, err.Error())
	}
	if !info.IsDir() {
		return false, ErrDirectoryConflict(root, "not a directory")
	}

	empty, err := isEmptyDir(root)
	if err != nil {
		return false, ErrDirectoryConflict(root, err.Error())
	}
	if empty {
		return false, nil
	}
	if !hasManifest(root) {
		return false, ErrDirectoryConflict(root, "directory is not empty and holds no "+ManifestFile)
	}
	if _, err := ReadManifest(root); err != nil {
		return false, ErrDirectoryConflict(root, "existing "+ManifestFile+" is invalid: "+err.Error())
	}
	return false, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

func (r *Registry) exists(ctx context.Context, id string) bool {
	var inst Instance
	return r.db.Get(ctx, recordKey(id), &inst) == nil
}

// Get returns one instance.
func (r *Registry) Get(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := r.db.Get(ctx, recordKey(id), &inst); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound(id)
		}
		return nil, ErrStore("read", err)
	}
	return &inst, nil
}

// List returns every instance sorted by name, then id.
func (r *Registry) List(ctx context.Context) ([]*Instance, error) {
	var out []*Instance
	err := r.db.List(ctx, store.PrefixInstance, func(_ string, raw []byte) error {
		var inst Instance
		if err := json.Unmarshal(raw, &inst); err != nil {
			return err
		}
		out = append(out, &inst)
		return nil
	})
	if err != nil {
		return nil, ErrStore("list", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update applies mutate to a copy of the instance, validates the result and
// persists it together with the manifest. The id and root cannot change.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*Instance) error) (*Instance, error) {
	var updated *Instance
	err := r.db.Update(ctx, func(tx *store.Tx) error {
		var current Instance
		if err := tx.Get(recordKey(id), &current); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound(id)
			}
			return ErrStore("read", err)
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			if errutil.Code(err) == "" {
				return ErrInvalidSpec(err)
			}
			return err
		}
		if next.ID != current.ID || next.Root != current.Root {
			return ErrInvalidSpecf("the id and root of an instance cannot change")
		}
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = r.now().UTC()
		if err := next.Validate(); err != nil {
			return err
		}
		if err := WriteManifest(next.Root, ManifestOf(next)); err != nil {
			return ErrDirectoryConflict(next.Root, err.Error())
		}
		if err := tx.Put(recordKey(id), next); err != nil {
			return ErrStore("write", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		if errutil.Code(err) == "" {
			return nil, ErrStore("update", err)
		}
		return nil, err
	}
	r.changed()
	return updated.Clone(), nil
}

// Delete removes an instance. It fails with INSTANCE_BUSY while the instance
// is reserved.
func (r *Registry) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	release, err := r.Reserve(id)
	if err != nil {
		return err
	}
	defer release()

	inst, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.db.Delete(ctx, recordKey(id)); err != nil {
		return ErrStore("delete", err)
	}
	if opts.RemoveFiles {
		if err := os.RemoveAll(inst.Root); err != nil {
			return ErrDirectoryConflict(inst.Root, err.Error())
		}
	}

	r.logger.Info("instance deleted", "instance_id", id, "files_removed", opts.RemoveFiles)
	r.changed()
	return nil
}

// Reserve takes exclusive use of an instance until release is called.
// Release is idempotent.
func (r *Registry) Reserve(id string) (release func(), err error) {
	release, ok := r.reserved.acquire(id)
	if !ok {
		return nil, ErrBusy(id)
	}
	return release, nil
}

// Reserved reports whether the instance is currently reserved.
func (r *Registry) Reserved(id string) bool {
	return r.reserved.isHeld(id)
}

// Sync reloads an instance's record from its manifest after the file was
// edited outside the launcher. It reports whether the record changed.
func (r *Registry) Sync(ctx context.Context, id string) (bool, error) {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	m, err := ReadManifest(inst.Root)
	if err != nil {
		return false, ErrInvalidSpec(err)
	}
	if current := ManifestOf(inst); manifestsEqual(current, m) {
		return false, nil
	}

	_, err = r.Update(ctx, id, func(next *Instance) error {
		m.Apply(next)
		if next.Loader == "" {
			next.Loader = LoaderVanilla
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func manifestsEqual(a, b *Manifest) bool {
	if a.Name != b.Name || a.Version != b.Version || a.Java != b.Java {
		return false
	}
	if a.Loader != b.Loader && !(b.Loader == "" && a.Loader == LoaderVanilla) {
		return false
	}
	am, bm := DefaultMemory(), DefaultMemory()
	if a.Memory != nil {
		am = *a.Memory
	}
	if b.Memory != nil {
		bm = *b.Memory
	}
	if am != bm {
		return false
	}
	if !slices.Equal(a.JVMArgs, b.JVMArgs) || !slices.Equal(a.GameArgs, b.GameArgs) {
		return false
	}
	if len(a.Env) != len(b.Env) {
		return false
	}
	for k, v := range a.Env {
		if bv, ok := b.Env[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func (r *Registry) changed() {
	if r.bus != nil {
		r.bus.InstancesChanged()
	}
}
