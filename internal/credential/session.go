// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

import (
	"errors"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/emberlaunch/ember/internal/identity"
	"github.com/emberlaunch/ember/internal/secret"
)

// ErrSessionDestroyed is returned when reading the token of a destroyed
// session.
var ErrSessionDestroyed = errors.New("credential: session destroyed")

// tokenBuffer holds an access token in memory.
type tokenBuffer interface {
	reveal() string
	destroy()
}

// lockedToken keeps the token in mlocked, guarded memory.
type lockedToken struct {
	buf *memguard.LockedBuffer
}

func (t *lockedToken) reveal() string { return string(t.buf.Bytes()) }

func (t *lockedToken) destroy() { t.buf.Destroy() }

// plainToken is used when the process cannot lock enough memory.
type plainToken struct {
	b []byte
}

func (t *plainToken) reveal() string { return string(t.b) }

func (t *plainToken) destroy() {
	secret.Wipe(t.b)
	t.b = nil
}

func newTokenBuffer(token string) tokenBuffer {
	b := []byte(token)
	if secureMemoryAvailable() {
		buf := memguard.NewBufferFromBytes(b)
		buf.Freeze()
		return &lockedToken{buf: buf}
	}
	return &plainToken{b: b}
}

// Session is a signed-in game session. Sessions handed out by the Manager
// are caller-owned copies and must be destroyed once the token is no longer
// needed.
type Session struct {
	AccountID  string
	PlayerID   uuid.UUID
	PlayerName string
	XUID       string
	UserType   string
	ExpiresAt  time.Time
	// RefreshKey locates the refresh credential in the secret store.
	RefreshKey secret.Key

	mu    sync.Mutex
	token tokenBuffer
}

func newSession(accountID string, g *identity.Grant) *Session {
	return &Session{
		AccountID:  accountID,
		PlayerID:   g.Profile.ID,
		PlayerName: g.Profile.Name,
		XUID:       g.XUID,
		UserType:   g.UserType,
		ExpiresAt:  g.ExpiresAt,
		RefreshKey: refreshKey(accountID),
		token:      newTokenBuffer(g.AccessToken),
	}
}

// AccessToken returns a copy of the game access token.
func (s *Session) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return "", ErrSessionDestroyed
	}
	return s.token.reveal(), nil
}

// ValidFor reports whether the session is alive and will not expire within
// window of now.
func (s *Session) ValidFor(now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil && now.Add(window).Before(s.ExpiresAt)
}

// Clone returns an independent copy with its own token buffer. Cloning a
// destroyed session yields a destroyed session.
func (s *Session) Clone() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Session{
		AccountID:  s.AccountID,
		PlayerID:   s.PlayerID,
		PlayerName: s.PlayerName,
		XUID:       s.XUID,
		UserType:   s.UserType,
		ExpiresAt:  s.ExpiresAt,
		RefreshKey: s.RefreshKey,
	}
	if s.token != nil {
		c.token = newTokenBuffer(s.token.reveal())
	}
	return c
}

// Destroy zeroes the token. It is safe to call more than once.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != nil {
		s.token.destroy()
		s.token = nil
	}
}

// Destroyed reports whether Destroy has been called.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == nil
}

func refreshKey(accountID string) secret.Key {
	return secret.Key{Account: accountID, Kind: secret.KindRefreshToken}
}
