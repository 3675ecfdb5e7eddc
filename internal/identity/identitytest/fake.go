// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package identitytest provides a programmable identity.Provider for tests.
package identitytest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/emberlaunch/ember/internal/identity"
)

// Provider is a fake identity.Provider. Unset funcs fall back to sensible
// defaults: polls grant immediately and refreshes rotate tokens.
type Provider struct {
	// StartFunc overrides StartAuthFlow.
	StartFunc func(ctx context.Context) (*identity.AuthHandle, error)
	// PollFunc overrides PollAuthFlow. n counts polls of this handle from 1.
	PollFunc func(ctx context.Context, handle *identity.AuthHandle, n int) (*identity.PollResult, error)
	// RefreshFunc overrides Refresh.
	RefreshFunc func(ctx context.Context, refreshToken string) (*identity.Grant, error)

	// Interval is the poll interval handed out by the default StartAuthFlow.
	Interval time.Duration
	// Lifetime is the session lifetime of default grants.
	Lifetime time.Duration
	// Now is the clock used for default grants.
	Now func() time.Time

	refreshes atomic.Int64
	starts    atomic.Int64
	seq       atomic.Int64

	mu        sync.Mutex
	polls     map[string]int
	cancelled []string
}

var _ identity.Provider = (*Provider)(nil)

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// StartAuthFlow implements identity.Provider.
func (p *Provider) StartAuthFlow(ctx context.Context) (*identity.AuthHandle, error) {
	p.starts.Add(1)
	if p.StartFunc != nil {
		return p.StartFunc(ctx)
	}
	interval := p.Interval
	if interval == 0 {
		interval = time.Millisecond
	}
	n := p.seq.Add(1)
	return &identity.AuthHandle{
		ID:              fmt.Sprintf("flow-%d", n),
		UserCode:        fmt.Sprintf("CODE-%04d", n),
		VerificationURI: "https://example.test/link",
		Interval:        interval,
		ExpiresAt:       p.now().Add(15 * time.Minute),
	}, nil
}

// PollAuthFlow implements identity.Provider.
func (p *Provider) PollAuthFlow(ctx context.Context, handle *identity.AuthHandle) (*identity.PollResult, error) {
	p.mu.Lock()
	if p.polls == nil {
		p.polls = make(map[string]int)
	}
	p.polls[handle.ID]++
	n := p.polls[handle.ID]
	p.mu.Unlock()

	if p.PollFunc != nil {
		return p.PollFunc(ctx, handle, n)
	}
	return &identity.PollResult{
		Status: identity.StatusGranted,
		Grant:  p.NewGrant("player", "refresh-"+handle.ID),
	}, nil
}

// Refresh implements identity.Provider.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*identity.Grant, error) {
	n := p.refreshes.Add(1)
	if p.RefreshFunc != nil {
		return p.RefreshFunc(ctx, refreshToken)
	}
	return p.NewGrant("player", fmt.Sprintf("%s-r%d", refreshToken, n)), nil
}

// CancelAuthFlow implements identity.Provider.
func (p *Provider) CancelAuthFlow(_ context.Context, handle *identity.AuthHandle) error {
	p.mu.Lock()
	p.cancelled = append(p.cancelled, handle.ID)
	p.mu.Unlock()
	return nil
}

// NewGrant builds a grant for name with a deterministic profile id and fresh
// token values.
func (p *Provider) NewGrant(name, refreshToken string) *identity.Grant {
	lifetime := p.Lifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	n := p.seq.Add(1)
	return &identity.Grant{
		AccessToken:  fmt.Sprintf("access-%s-%d", name, n),
		ExpiresAt:    p.now().Add(lifetime),
		RefreshToken: refreshToken,
		Profile: identity.Profile{
			ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
			Name: name,
		},
		XUID:         fmt.Sprintf("xuid-%s", name),
		UserType:     "msa",
		Intermediate: []string{fmt.Sprintf("xsts-%s-%d", name, n)},
	}
}

// Refreshes returns the number of Refresh calls.
func (p *Provider) Refreshes() int { return int(p.refreshes.Load()) }

// Starts returns the number of StartAuthFlow calls.
func (p *Provider) Starts() int { return int(p.starts.Load()) }

// Cancelled returns the ids of flows passed to CancelAuthFlow.
func (p *Provider) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}
