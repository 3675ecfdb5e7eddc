// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package identity talks to the identity provider: the device authorization
// flow that signs a user in, and the refresh exchange that renews their game
// session. It holds no state beyond pending device flows; persistence and
// lifecycle belong to the credential package.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRejected is returned by Refresh when the provider refuses the refresh
// token: revoked, expired, or issued to another client. The user must sign in
// again.
var ErrRejected = errors.New("identity: refresh token rejected")

// ErrFlowNotFound is returned by PollAuthFlow for a handle that was cancelled
// or already completed.
var ErrFlowNotFound = errors.New("identity: no pending authorization flow")

// TransientError marks a failure worth retrying: network faults, timeouts and
// provider-side 5xx/429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// DeniedError is a permanent refusal other than a rejected refresh token,
// such as an account without an Xbox profile or without the game.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "identity: denied: " + e.Reason }

// AuthHandle describes a pending device authorization.
type AuthHandle struct {
	ID                      string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                time.Duration
	ExpiresAt               time.Time
}

// PollStatus is the state of a pending authorization.
type PollStatus int

// Poll statuses.
const (
	StatusPending PollStatus = iota
	StatusGranted
	StatusDenied
	StatusExpired
)

func (s PollStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("PollStatus(%d)", int(s))
	}
}

// PollResult is the outcome of one poll. Grant is set for StatusGranted,
// Reason may be set for StatusDenied.
type PollResult struct {
	Status PollStatus
	Grant  *Grant
	Reason string
}

// Profile is the game profile of a signed-in user.
type Profile struct {
	ID   uuid.UUID
	Name string
}

// Grant is the result of a completed authorization or refresh.
type Grant struct {
	// AccessToken is the game services token passed to the game.
	AccessToken string
	ExpiresAt   time.Time
	// RefreshToken renews the grant. It may equal the previous one when the
	// provider does not rotate refresh tokens.
	RefreshToken string
	Profile      Profile
	XUID         string
	UserType     string
	// Intermediate holds every other token value issued during the exchange.
	// They are never persisted but must be redacted from output.
	Intermediate []string
}

// Secrets returns every token value in the grant.
func (g *Grant) Secrets() []string {
	out := make([]string, 0, 2+len(g.Intermediate))
	for _, s := range append([]string{g.AccessToken, g.RefreshToken}, g.Intermediate...) {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Provider is the identity provider contract.
type Provider interface {
	StartAuthFlow(ctx context.Context) (*AuthHandle, error)
	// PollAuthFlow checks a pending authorization once. It may block for up
	// to roughly one poll interval.
	PollAuthFlow(ctx context.Context, handle *AuthHandle) (*PollResult, error)
	// Refresh exchanges a refresh token for a new grant. It returns an error
	// wrapping ErrRejected when the token is refused and a TransientError for
	// retryable faults.
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	// CancelAuthFlow releases the provider's state for a pending flow.
	CancelAuthFlow(ctx context.Context, handle *AuthHandle) error
}
