// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package store is the launcher's durable key-value state: instance records,
// account metadata and small pointers such as the selected account. Values
// are JSON documents. Secret material never passes through this package.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/oops"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Key prefixes.
const (
	PrefixInstance = "instance/"
	PrefixAccount  = "account/"
	PrefixMeta     = "meta/"
)

// Options configure Open.
type Options struct {
	// Path is the database directory. Required unless InMemory.
	Path string
	// InMemory keeps everything in memory; used by tests.
	InMemory bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
	// GCInterval runs value log GC periodically when positive.
	GCInterval time.Duration
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a badger-backed JSON document store.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	gcDone chan struct{}
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, oops.Errorf("store path is required for a persistent database")
		}
		if err := os.MkdirAll(opts.Path, 0o700); err != nil {
			return nil, oops.With("path", opts.Path).Wrapf(err, "create database directory")
		}
		bopts = badger.DefaultOptions(opts.Path).WithSyncWrites(true)
	}
	bopts = bopts.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, oops.With("path", opts.Path).Wrapf(err, "open database")
	}

	s := &Store{db: db}
	if opts.GCInterval > 0 && !opts.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(opts.GCInterval, opts.Logger)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

func (s *Store) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// Close stops background work and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	if err := s.db.Close(); err != nil {
		return oops.Wrapf(err, "close database")
	}
	return nil
}

// Get decodes the value at key into v.
func (s *Store) Get(ctx context.Context, key string, v any) error {
	return s.View(ctx, func(tx *Tx) error { return tx.Get(key, v) })
}

// Put encodes v and writes it at key.
func (s *Store) Put(ctx context.Context, key string, v any) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Put(key, v) })
}

// Delete removes key. Removing a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Delete(key) })
}

// List calls fn for every key with prefix, in key order.
func (s *Store) List(ctx context.Context, prefix string, fn func(key string, raw []byte) error) error {
	return s.View(ctx, func(tx *Tx) error { return tx.List(prefix, fn) })
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	//nolint:wrapcheck // callers receive their own errors unchanged
	return s.db.View(func(txn *badger.Txn) error { return fn(&Tx{txn: txn}) })
}

// Update runs fn in a read-write transaction. Conflicting concurrent
// transactions are retried a few times.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error { return fn(&Tx{txn: txn}) })
		if !errors.Is(err, badger.ErrConflict) {
			//nolint:wrapcheck // callers receive their own errors unchanged
			return err
		}
	}
	return oops.Wrapf(err, "transaction conflict")
}

// Tx is a store transaction.
type Tx struct {
	txn *badger.Txn
}

// Get decodes the value at key into v.
func (t *Tx) Get(key string, v any) error {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return oops.With("key", key).Wrapf(err, "read")
	}
	return item.Value(func(raw []byte) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return oops.With("key", key).Wrapf(err, "decode")
		}
		return nil
	})
}

// Exists reports whether key is present.
func (t *Tx) Exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("key", key).Wrapf(err, "read")
	}
	return true, nil
}

// Put encodes v and writes it at key.
func (t *Tx) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return oops.With("key", key).Wrapf(err, "encode")
	}
	if err := t.txn.Set([]byte(key), raw); err != nil {
		return oops.With("key", key).Wrapf(err, "write")
	}
	return nil
}

// Delete removes key.
func (t *Tx) Delete(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil {
		return oops.With("key", key).Wrapf(err, "delete")
	}
	return nil
}

// List calls fn for every key with prefix, in key order. raw is only valid
// during the call.
func (t *Tx) List(prefix string, fn func(key string, raw []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		if err := item.Value(func(raw []byte) error { return fn(key, raw) }); err != nil {
			return err
		}
	}
	return nil
}
