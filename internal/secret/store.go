// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package secret persists refresh-capable credentials outside the launcher's
// own state. Values are opaque byte strings keyed by account and kind; the
// store never sees account metadata and callers never persist raw tokens
// anywhere else.
package secret

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("secret not found")

// Kind distinguishes the secrets held for one account.
type Kind string

// Secret kinds.
const (
	KindRefreshToken    Kind = "refresh-token"
	KindProviderSession Kind = "provider-session"
)

// Key addresses one secret.
type Key struct {
	Account string `json:"account"`
	Kind    Kind   `json:"kind"`
}

// String renders the key as account/kind.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Account, k.Kind)
}

// Validate checks that both parts of the key are present.
func (k Key) Validate() error {
	if k.Account == "" || k.Kind == "" {
		return fmt.Errorf("secret key %q is incomplete", k.String())
	}
	return nil
}

// Store is a transactional secret store. Writes to one key are
// last-writer-wins; every Get reads the current value.
type Store interface {
	Put(ctx context.Context, key Key, value []byte) error
	Get(ctx context.Context, key Key) ([]byte, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
}

// Wipe zeroes a byte slice returned by Get.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
