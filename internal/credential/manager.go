// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package credential owns the sign-in lifecycle of every account: the
// device authorization flow, refresh of game sessions before they expire,
// and persistence of refresh credentials in the secret store. Token values
// never leave this package except inside caller-owned Sessions, and every
// value is published to the redaction registry before anyone can see it.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/identity"
	"github.com/emberlaunch/ember/internal/secret"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/pkg/errutil"
)

var tracer = otel.Tracer("ember/credential")

// Defaults for Config fields left zero.
const (
	DefaultSafetyWindow   = 60 * time.Second
	DefaultRefreshTimeout = 15 * time.Second
	DefaultRefreshRetries = 3
	DefaultRefreshBackoff = 250 * time.Millisecond
	DefaultGrace          = 10 * time.Minute
)

// Redactor receives every token value that must be kept out of output.
type Redactor interface {
	Publish(values ...string)
	Retire(grace time.Duration, values ...string)
}

type nopRedactor struct{}

func (nopRedactor) Publish(...string)               {}
func (nopRedactor) Retire(time.Duration, ...string) {}

// Prompt tells the user how to complete a device sign-in.
type Prompt struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	// Prompt is called once the user code is known.
	Prompt func(Prompt)
	// AccountID names the account being signed in again. Empty for a new
	// account.
	AccountID string
}

// Config configures a Manager. Provider, Secrets and Store are required.
type Config struct {
	Provider identity.Provider
	Secrets  secret.Store
	Store    *store.Store
	Redactor Redactor
	Events   *events.Bus
	Logger   *slog.Logger
	Now      func() time.Time

	SafetyWindow   time.Duration
	RefreshTimeout time.Duration
	RefreshRetries uint64
	RefreshBackoff time.Duration
	// Grace keeps rotated token values redacted for this long.
	Grace time.Duration
}

type accountState struct {
	state   State
	session *Session
	secrets []string
	// gen changes on logout so refreshes that started earlier are discarded.
	gen uint64
	// commit serializes secret store writes for the account.
	commit sync.Mutex
}

type pendingAuth struct {
	cancel context.CancelCauseFunc
}

// Manager is the credential manager.
type Manager struct {
	cfg      Config
	accounts *accountStore
	logger   *slog.Logger
	flights  singleflight.Group

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	states map[string]*accountState
	auths  map[string]*pendingAuth
	closed bool
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Provider == nil || cfg.Secrets == nil || cfg.Store == nil {
		return nil, oops.Errorf("credential manager requires a provider, a secret store and an account store")
	}
	if cfg.Redactor == nil {
		cfg.Redactor = nopRedactor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SafetyWindow == 0 {
		cfg.SafetyWindow = DefaultSafetyWindow
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.RefreshBackoff <= 0 {
		cfg.RefreshBackoff = DefaultRefreshBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		accounts:   &accountStore{db: cfg.Store},
		logger:     cfg.Logger.With("component", "credential"),
		baseCtx:    ctx,
		baseCancel: cancel,
		states:     make(map[string]*accountState),
		auths:      make(map[string]*pendingAuth),
	}, nil
}

func (m *Manager) stateLocked(accountID string) *accountState {
	st, ok := m.states[accountID]
	if !ok {
		st = &accountState{}
		m.states[accountID] = st
	}
	return st
}

// State returns the lifecycle state of an account.
func (m *Manager) State(accountID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[accountID]; ok {
		return st.state
	}
	return StateUnauthenticated
}

// Authenticate signs a user in with the provider's device flow and persists
// the resulting account. Nothing is persisted unless the whole exchange
// succeeds.
func (m *Manager) Authenticate(ctx context.Context, opts AuthOptions) (*Account, error) {
	key := opts.AccountID

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed()
	}
	if _, busy := m.auths[key]; busy {
		m.mu.Unlock()
		return nil, ErrAuthInProgress(key)
	}
	if st, ok := m.states[key]; ok && key != "" && st.state == StateRefreshing {
		m.mu.Unlock()
		return nil, ErrRefreshInProgress(key)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	m.auths[key] = &pendingAuth{cancel: cancel}
	prev := StateUnauthenticated
	if key != "" {
		st := m.stateLocked(key)
		prev = st.state
		st.state = StateAuthenticating
	}
	m.mu.Unlock()

	defer func() {
		cancel(nil)
		m.mu.Lock()
		delete(m.auths, key)
		if st, ok := m.states[key]; ok && key != "" && st.state == StateAuthenticating {
			st.state = prev
		}
		m.mu.Unlock()
	}()

	acct, err := m.authenticate(ctx, opts)
	authTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		m.logger.Info("sign-in failed", "account_id", key, "code", errutil.Code(err))
		return nil, err
	}
	m.logger.Info("signed in", "account_id", acct.ID, "player", acct.Name)
	return acct, nil
}

func (m *Manager) authenticate(ctx context.Context, opts AuthOptions) (*Account, error) {
	handle, err := m.cfg.Provider.StartAuthFlow(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAuthCancelled(context.Cause(ctx))
		}
		return nil, ErrProviderError("start sign-in", err)
	}

	granted := false
	defer func() {
		if granted {
			return
		}
		if err := m.cfg.Provider.CancelAuthFlow(context.WithoutCancel(ctx), handle); err != nil {
			m.logger.Debug("release sign-in flow", "error", err)
		}
	}()

	if opts.Prompt != nil {
		opts.Prompt(Prompt{
			UserCode:                handle.UserCode,
			VerificationURI:         handle.VerificationURI,
			VerificationURIComplete: handle.VerificationURIComplete,
			ExpiresAt:               handle.ExpiresAt,
		})
	}

	flowCtx, cancelFlow := context.WithDeadline(ctx, handle.ExpiresAt)
	defer cancelFlow()

	interval := handle.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(flowCtx); err != nil {
			return nil, interrupted(ctx)
		}
		res, err := m.cfg.Provider.PollAuthFlow(flowCtx, handle)
		if handle.Interval > interval {
			interval = handle.Interval
			limiter.SetLimit(rate.Every(interval))
		}
		if err != nil {
			if flowCtx.Err() != nil {
				return nil, interrupted(ctx)
			}
			if identity.IsTransient(err) {
				m.logger.Debug("sign-in poll failed, retrying", "error", err)
				continue
			}
			return nil, ErrProviderError("poll sign-in", err)
		}

		switch res.Status {
		case identity.StatusPending:
			continue
		case identity.StatusDenied:
			return nil, ErrAuthDenied(res.Reason)
		case identity.StatusExpired:
			return nil, ErrAuthTimeout()
		case identity.StatusGranted:
			granted = true
			return m.commitGrant(context.WithoutCancel(ctx), opts.AccountID, res.Grant)
		default:
			return nil, ErrProviderError("poll sign-in", fmt.Errorf("unexpected status %s", res.Status))
		}
	}
}

// interrupted maps the end of a device flow that was not decided by the
// provider: cancellation of the caller's context, or the code's expiry.
func interrupted(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrAuthCancelled(context.Cause(ctx))
	}
	return ErrAuthTimeout()
}

// commitGrant persists a granted sign-in: the refresh token first, then the
// account metadata. If the metadata cannot be saved the secret is removed.
func (m *Manager) commitGrant(ctx context.Context, wantID string, grant *identity.Grant) (*Account, error) {
	id := grant.Profile.ID.String()
	if wantID != "" && wantID != id {
		return nil, ErrAuthDenied(fmt.Sprintf("signed in as %s, not the requested account", grant.Profile.Name))
	}

	m.mu.Lock()
	st := m.stateLocked(id)
	m.mu.Unlock()

	st.commit.Lock()
	defer st.commit.Unlock()

	key := refreshKey(id)
	if err := m.cfg.Secrets.Put(ctx, key, []byte(grant.RefreshToken)); err != nil {
		return nil, ErrSecretStore("put", err)
	}

	now := m.cfg.Now()
	acct := &Account{
		ID:            id,
		Name:          grant.Profile.Name,
		XUID:          grant.XUID,
		CredentialRef: key,
		CreatedAt:     now,
		LastUsed:      now,
	}
	if err := m.accounts.save(ctx, acct); err != nil {
		if delErr := m.cfg.Secrets.Delete(ctx, key); delErr != nil {
			errutil.LogError(m.logger, "roll back refresh token", delErr)
		}
		return nil, err
	}

	m.install(st, id, grant)
	m.accountsChanged()
	return acct, nil
}

// install makes grant the live session of an account. New token values are
// published before the old session is retired so there is no gap.
func (m *Manager) install(st *accountState, accountID string, grant *identity.Grant) {
	sess := newSession(accountID, grant)
	values := grant.Secrets()
	m.cfg.Redactor.Publish(values...)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.Destroy()
		m.cfg.Redactor.Retire(m.cfg.Grace, values...)
		return
	}
	old, oldValues := st.session, st.secrets
	st.session, st.secrets, st.state = sess, values, StateAuthenticated
	m.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	m.cfg.Redactor.Retire(m.cfg.Grace, oldValues...)
}

// CancelAuthentication cancels a pending sign-in for accountID ("" for a new
// account). It reports whether a sign-in was pending.
func (m *Manager) CancelAuthentication(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.auths[accountID]
	if ok {
		p.cancel(errCancelledByUser)
	}
	return ok
}

// CurrentSession returns a session valid for at least the safety window,
// refreshing first when needed. Concurrent callers share one refresh; a
// caller whose ctx ends stops waiting without cancelling it. The returned
// session belongs to the caller, who must Destroy it.
func (m *Manager) CurrentSession(ctx context.Context, accountID string) (*Session, error) {
	if s, err := m.cachedSession(accountID); s != nil || err != nil {
		return s, err
	}

	ch := m.flights.DoChan(accountID, func() (any, error) {
		return nil, m.refresh(accountID)
	})
	select {
	case <-ctx.Done():
		return nil, oops.With("account_id", accountID).Wrapf(ctx.Err(), "waiting for session refresh")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	s, err := m.cachedSession(accountID)
	if s == nil && err == nil {
		return nil, ErrReauthRequired(accountID, errors.New("account signed out during refresh"))
	}
	return s, err
}

func (m *Manager) cachedSession(accountID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed()
	}
	st, ok := m.states[accountID]
	if !ok {
		return nil, nil
	}
	if st.session != nil && st.session.ValidFor(m.cfg.Now(), m.cfg.SafetyWindow) {
		return st.session.Clone(), nil
	}
	if st.state == StateReauthRequired {
		return nil, ErrReauthRequired(accountID, nil)
	}
	return nil, nil
}

// refresh runs inside the single flight for accountID.
func (m *Manager) refresh(accountID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed()
	}
	m.wg.Add(1)
	defer m.wg.Done()

	st := m.stateLocked(accountID)
	if st.session != nil && st.session.ValidFor(m.cfg.Now(), m.cfg.SafetyWindow) {
		m.mu.Unlock()
		return nil
	}
	// The sign-in replaces the stored credential; refreshing the old one
	// meanwhile would race it.
	if _, busy := m.auths[accountID]; busy {
		m.mu.Unlock()
		return ErrAuthInProgress(accountID)
	}
	gen, prev := st.gen, st.state
	st.state = StateRefreshing
	m.mu.Unlock()

	ctx, span := tracer.Start(m.baseCtx, "credential.refresh")
	span.SetAttributes(attribute.String("account.id", accountID))
	defer span.End()

	start := time.Now()
	err := m.doRefresh(ctx, accountID, st, gen)
	refreshDuration.Observe(time.Since(start).Seconds())
	refreshTotal.WithLabelValues(resultLabel(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errutil.Code(err))
		if !errutil.HasCode(err, CodeReauthRequired) {
			m.mu.Lock()
			if st.state == StateRefreshing {
				st.state = prev
			}
			m.mu.Unlock()
		}
		m.logger.Warn("session refresh failed", "account_id", accountID, "code", errutil.Code(err))
		return err
	}
	m.logger.Debug("session refreshed", "account_id", accountID)
	return nil
}

func (m *Manager) doRefresh(ctx context.Context, accountID string, st *accountState, gen uint64) error {
	if _, err := m.accounts.get(ctx, accountID); err != nil {
		return err
	}

	key := refreshKey(accountID)
	token, err := m.cfg.Secrets.Get(ctx, key)
	if errors.Is(err, secret.ErrNotFound) {
		return m.requireReauth(ctx, accountID, st, errors.New("no refresh credential stored"))
	}
	if err != nil {
		return ErrSecretStore("get", err)
	}
	defer secret.Wipe(token)

	backoff := retry.WithMaxRetries(m.cfg.RefreshRetries, retry.NewExponential(m.cfg.RefreshBackoff))
	grant, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*identity.Grant, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
		defer cancel()
		g, err := m.cfg.Provider.Refresh(attemptCtx, string(token))
		if err != nil && identity.IsTransient(err) && ctx.Err() == nil {
			m.logger.Debug("session refresh attempt failed", "account_id", accountID, "error", err)
			return nil, retry.RetryableError(err)
		}
		return g, err
	})

	var denied *identity.DeniedError
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrRejected):
		return m.requireReauth(ctx, accountID, st, err)
	case errors.As(err, &denied):
		return ErrAuthDenied(denied.Reason)
	case ctx.Err() != nil:
		return ErrClosed()
	default:
		return ErrProviderError("refresh", err)
	}

	if !grant.ExpiresAt.After(m.cfg.Now().Add(m.cfg.SafetyWindow)) {
		return ErrProviderError("refresh", fmt.Errorf("issued session expires at %s, inside the safety window", grant.ExpiresAt.Format(time.RFC3339)))
	}

	st.commit.Lock()
	defer st.commit.Unlock()

	m.mu.Lock()
	stale := st.gen != gen
	m.mu.Unlock()
	if stale {
		return ErrReauthRequired(accountID, errors.New("account signed out during refresh"))
	}

	if grant.RefreshToken == "" {
		grant.RefreshToken = string(token)
	}
	if grant.RefreshToken != string(token) {
		if err := m.cfg.Secrets.Put(ctx, key, []byte(grant.RefreshToken)); err != nil {
			errutil.LogError(m.logger, "store rotated refresh token", ErrSecretStore("put", err))
		}
	}

	m.install(st, accountID, grant)
	if err := m.accounts.touch(ctx, accountID, m.cfg.Now()); err != nil {
		m.logger.Debug("update account last used", "account_id", accountID, "error", err)
	}
	return nil
}

// requireReauth forgets an account's credential after the provider refused
// it or it went missing.
func (m *Manager) requireReauth(ctx context.Context, accountID string, st *accountState, cause error) error {
	st.commit.Lock()
	defer st.commit.Unlock()

	if err := m.cfg.Secrets.Delete(ctx, refreshKey(accountID)); err != nil {
		errutil.LogError(m.logger, "delete refused refresh token", ErrSecretStore("delete", err))
	}

	m.mu.Lock()
	old, oldValues := st.session, st.secrets
	st.session, st.secrets, st.state = nil, nil, StateReauthRequired
	m.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	m.cfg.Redactor.Retire(m.cfg.Grace, oldValues...)
	m.accountsChanged()
	return ErrReauthRequired(accountID, cause)
}

// Logout forgets an account: its refresh credential, its session and its
// metadata. Logging out an unknown account is not an error.
func (m *Manager) Logout(ctx context.Context, accountID string) error {
	m.mu.Lock()
	if p, ok := m.auths[accountID]; ok {
		p.cancel(errCancelledByUser)
	}
	st := m.stateLocked(accountID)
	m.mu.Unlock()

	st.commit.Lock()
	defer st.commit.Unlock()

	if err := m.cfg.Secrets.Delete(ctx, refreshKey(accountID)); err != nil {
		return ErrSecretStore("delete", err)
	}

	m.mu.Lock()
	st.gen++
	old, oldValues := st.session, st.secrets
	st.session, st.secrets, st.state = nil, nil, StateUnauthenticated
	if m.states[accountID] == st {
		delete(m.states, accountID)
	}
	m.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	m.cfg.Redactor.Retire(m.cfg.Grace, oldValues...)

	if err := m.accounts.remove(ctx, accountID); err != nil {
		return err
	}
	m.accountsChanged()
	m.logger.Info("signed out", "account_id", accountID)
	return nil
}

// Accounts returns every known account sorted by name.
func (m *Manager) Accounts(ctx context.Context) ([]*Account, error) {
	return m.accounts.list(ctx)
}

// Account returns one account.
func (m *Manager) Account(ctx context.Context, accountID string) (*Account, error) {
	return m.accounts.get(ctx, accountID)
}

// SelectedAccount returns the account used when none is named.
func (m *Manager) SelectedAccount(ctx context.Context) (*Account, error) {
	id, err := m.accounts.selected(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, oops.Code(CodeAccountNotFound).Errorf("no account selected")
	}
	return m.accounts.get(ctx, id)
}

// SelectAccount makes accountID the selected account.
func (m *Manager) SelectAccount(ctx context.Context, accountID string) error {
	if err := m.accounts.selectAccount(ctx, accountID); err != nil {
		return err
	}
	m.accountsChanged()
	return nil
}

// Close cancels pending sign-ins, waits for running refreshes and destroys
// every session. Token values stay redacted for the grace window.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, p := range m.auths {
		p.cancel(errCancelledByUser)
	}
	states := m.states
	m.states = make(map[string]*accountState)
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()

	for _, st := range states {
		m.mu.Lock()
		old, oldValues := st.session, st.secrets
		st.session, st.secrets = nil, nil
		m.mu.Unlock()
		if old != nil {
			old.Destroy()
		}
		m.cfg.Redactor.Retire(m.cfg.Grace, oldValues...)
	}
	return nil
}

func (m *Manager) accountsChanged() {
	if m.cfg.Events != nil {
		m.cfg.Events.AccountsChanged()
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errutil.Code(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
