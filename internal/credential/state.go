// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

// State is the credential lifecycle state of one account.
type State int

// Account states.
const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StateReauthRequired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateReauthRequired:
		return "reauth_required"
	default:
		return "unknown"
	}
}
