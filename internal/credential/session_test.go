// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlaunch/ember/internal/identity"
)

func testGrant(expires time.Time) *identity.Grant {
	return &identity.Grant{
		AccessToken:  "game-token-value",
		ExpiresAt:    expires,
		RefreshToken: "refresh-token-value",
		Profile:      identity.Profile{ID: uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), Name: "Notch"},
		XUID:         "2535405290",
		UserType:     "msa",
	}
}

func TestSession_ValidFor(t *testing.T) {
	now := time.Now()
	s := newSession("acct", testGrant(now.Add(2*time.Minute)))
	defer s.Destroy()

	assert.True(t, s.ValidFor(now, time.Minute))
	assert.False(t, s.ValidFor(now, 2*time.Minute))
	assert.False(t, s.ValidFor(now.Add(3*time.Minute), 0))
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := newSession("acct", testGrant(time.Now().Add(time.Hour)))
	c := s.Clone()

	s.Destroy()
	assert.True(t, s.Destroyed())
	_, err := s.AccessToken()
	assert.ErrorIs(t, err, ErrSessionDestroyed)

	tok, err := c.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "game-token-value", tok)
	assert.Equal(t, "Notch", c.PlayerName)
	assert.Equal(t, refreshKey("acct"), c.RefreshKey)

	c.Destroy()
	c.Destroy()
	assert.True(t, c.Destroyed())
	assert.True(t, c.Clone().Destroyed())
}

func TestPlainToken_DestroyWipes(t *testing.T) {
	b := []byte("secret-value")
	tok := &plainToken{b: b}
	assert.Equal(t, "secret-value", tok.reveal())
	tok.destroy()
	assert.Equal(t, make([]byte, len("secret-value")), b)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reauth_required", StateReauthRequired.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "unknown", State(42).String())
}
