// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/emberlaunch/ember/internal/secret"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/pkg/errutil"
)

// selectedKey holds the id of the selected account.
const selectedKey = store.PrefixMeta + "selected-account"

// Account is the persisted, non-secret description of a signed-in user.
type Account struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	XUID          string     `json:"xuid,omitempty"`
	CredentialRef secret.Key `json:"credential_ref"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsed      time.Time  `json:"last_used"`
}

func accountKey(id string) string {
	return store.PrefixAccount + id
}

// accountStore persists account metadata.
type accountStore struct {
	db *store.Store
}

func (s *accountStore) get(ctx context.Context, id string) (*Account, error) {
	var a Account
	if err := s.db.Get(ctx, accountKey(id), &a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound(id)
		}
		return nil, ErrStore("read", err)
	}
	return &a, nil
}

// save writes the account and makes it the selected account when none is
// selected yet.
func (s *accountStore) save(ctx context.Context, a *Account) error {
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		var existing Account
		switch err := tx.Get(accountKey(a.ID), &existing); {
		case err == nil:
			a.CreatedAt = existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if err := tx.Put(accountKey(a.ID), a); err != nil {
			return err
		}
		selected, err := tx.Exists(selectedKey)
		if err != nil {
			return err
		}
		if !selected {
			return tx.Put(selectedKey, a.ID)
		}
		return nil
	})
	if err != nil {
		return ErrStore("write", err)
	}
	return nil
}

// remove deletes the account and clears the selection if it pointed at it.
func (s *accountStore) remove(ctx context.Context, id string) error {
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Delete(accountKey(id)); err != nil {
			return err
		}
		var selected string
		switch err := tx.Get(selectedKey, &selected); {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		if selected == id {
			return tx.Delete(selectedKey)
		}
		return nil
	})
	if err != nil {
		return ErrStore("delete", err)
	}
	return nil
}

func (s *accountStore) list(ctx context.Context) ([]*Account, error) {
	var out []*Account
	err := s.db.List(ctx, store.PrefixAccount, func(_ string, raw []byte) error {
		var a Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		out = append(out, &a)
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

func (s *accountStore) selected(ctx context.Context) (string, error) {
	var id string
	if err := s.db.Get(ctx, selectedKey, &id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", ErrStore("read", err)
	}
	return id, nil
}

func (s *accountStore) selectAccount(ctx context.Context, id string) error {
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		ok, err := tx.Exists(accountKey(id))
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound(id)
		}
		return tx.Put(selectedKey, id)
	})
	if err == nil {
		return nil
	}
	if errutil.HasCode(err, CodeAccountNotFound) {
		return err
	}
	return ErrStore("write", err)
}

func (s *accountStore) touch(ctx context.Context, id string, at time.Time) error {
	return s.db.Update(ctx, func(tx *store.Tx) error {
		var a Account
		if err := tx.Get(accountKey(id), &a); err != nil {
			return err
		}
		a.LastUsed = at
		return tx.Put(accountKey(id), &a)
	})
}
