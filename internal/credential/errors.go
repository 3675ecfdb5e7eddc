// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes for credential failures.
const (
	CodeAuthDenied        = "AUTH_DENIED"
	CodeAuthTimeout       = "AUTH_TIMEOUT"
	CodeAuthCancelled     = "AUTH_CANCELLED"
	CodeAuthInProgress    = "AUTH_IN_PROGRESS"
	CodeReauthRequired    = "REAUTH_REQUIRED"
	CodeProviderError     = "PROVIDER_ERROR"
	CodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	CodeSecretStoreFailed = "SECRET_STORE_FAILED"
	CodeStoreFailed       = "STORE_FAILED"
	CodeClosed            = "MANAGER_CLOSED"
)

// errCancelledByUser is the cancellation cause set by CancelAuthentication.
var errCancelledByUser = errors.New("authentication cancelled")

// ErrAuthDenied creates an error for a refused authorization.
func ErrAuthDenied(reason string) error {
	if reason == "" {
		reason = "authorization was declined"
	}
	return oops.Code(CodeAuthDenied).
		With("reason", reason).
		Errorf("sign-in denied: %s", reason)
}

// ErrAuthTimeout creates an error for a device code that expired before the
// user completed sign-in.
func ErrAuthTimeout() error {
	return oops.Code(CodeAuthTimeout).
		Errorf("sign-in code expired before authorization completed")
}

// ErrAuthCancelled creates an error for an abandoned sign-in.
func ErrAuthCancelled(cause error) error {
	return oops.Code(CodeAuthCancelled).Wrapf(cause, "sign-in cancelled")
}

// ErrAuthInProgress creates an error for a second concurrent sign-in.
func ErrAuthInProgress(accountID string) error {
	return oops.Code(CodeAuthInProgress).
		With("account_id", accountID).
		Errorf("a sign-in is already in progress")
}

// ErrRefreshInProgress creates an error for a sign-in started while the
// account's session is being refreshed.
func ErrRefreshInProgress(accountID string) error {
	return oops.Code(CodeAuthInProgress).
		With("account_id", accountID).
		Errorf("session refresh in progress, try again")
}

// ErrReauthRequired creates an error for an account whose refresh
// credential is gone or refused.
func ErrReauthRequired(accountID string, cause error) error {
	b := oops.Code(CodeReauthRequired).With("account_id", accountID)
	if cause != nil {
		return b.Wrapf(cause, "account must sign in again")
	}
	return b.Errorf("account must sign in again")
}

// ErrProviderError creates an error for an identity provider failure.
func ErrProviderError(op string, cause error) error {
	return oops.Code(CodeProviderError).
		With("operation", op).
		Wrapf(cause, "identity provider %s failed", op)
}

// ErrAccountNotFound creates an error for an unknown account.
func ErrAccountNotFound(accountID string) error {
	return oops.Code(CodeAccountNotFound).
		With("account_id", accountID).
		Errorf("account %s not found", accountID)
}

// ErrSecretStore creates an error for a secret store failure.
func ErrSecretStore(op string, cause error) error {
	return oops.Code(CodeSecretStoreFailed).
		With("operation", op).
		Wrapf(cause, "secret store %s failed", op)
}

// ErrStore creates an error for an account metadata failure.
func ErrStore(op string, cause error) error {
	return oops.Code(CodeStoreFailed).
		With("operation", op).
		Wrapf(cause, "account store %s failed", op)
}

// ErrClosed creates an error for calls after Close.
func ErrClosed() error {
	return oops.Code(CodeClosed).Errorf("credential manager is closed")
}
