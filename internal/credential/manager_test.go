// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package credential_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/emberlaunch/ember/internal/credential"
	"github.com/emberlaunch/ember/internal/events"
	"github.com/emberlaunch/ember/internal/identity"
	"github.com/emberlaunch/ember/internal/identity/identitytest"
	"github.com/emberlaunch/ember/internal/redact"
	"github.com/emberlaunch/ember/internal/secret"
	"github.com/emberlaunch/ember/internal/store"
	"github.com/emberlaunch/ember/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	provider *identitytest.Provider
	secrets  *secret.MemoryStore
	db       *store.Store
	registry *redact.Registry
	bus      *events.Bus
	clock    *fakeClock
	mgr      *credential.Manager
	dbClosed bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	db, err := store.OpenInMemory()
	require.NoError(t, err)

	h := &harness{
		provider: &identitytest.Provider{Now: clock.Now},
		secrets:  secret.NewMemoryStore(),
		db:       db,
		registry: redact.NewRegistry(redact.WithClock(clock.Now)),
		bus:      events.NewBus(),
		clock:    clock,
	}
	h.mgr, err = credential.New(credential.Config{
		Provider:       h.provider,
		Secrets:        h.secrets,
		Store:          db,
		Redactor:       h.registry,
		Events:         h.bus,
		Now:            clock.Now,
		RefreshBackoff: time.Millisecond,
		RefreshRetries: 3,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.mgr.Close()
		h.bus.Close()
		if !h.dbClosed {
			_ = db.Close()
		}
	})
	return h
}

// leakOptions ignores goroutines that existed before the check started and
// the memguard key rotation loop, which lives for the whole process.
func leakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreAnyFunction("github.com/awnumar/memguard/core.NewCoffer.func1"),
	}
}

func (h *harness) signIn(t *testing.T) *credential.Account {
	t.Helper()
	acct, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	require.NoError(t, err)
	return acct
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := credential.New(credential.Config{})
	assert.Error(t, err)
}

func TestAuthenticate_PersistsAccount(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	var prompt credential.Prompt
	acct, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{
		Prompt: func(p credential.Prompt) { prompt = p },
	})
	require.NoError(t, err)

	assert.Equal(t, "CODE-0001", prompt.UserCode)
	assert.Equal(t, "https://example.test/link", prompt.VerificationURI)
	assert.Equal(t, "player", acct.Name)
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))

	stored, err := h.secrets.Get(context.Background(), acct.CredentialRef)
	require.NoError(t, err)
	assert.Equal(t, "refresh-flow-1", string(stored))

	accounts, err := h.mgr.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, acct.ID, accounts[0].ID)

	selected, err := h.mgr.SelectedAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acct.ID, selected.ID)

	select {
	case ev := <-sub.C():
		assert.Equal(t, events.TypeAccountsChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no accounts changed event")
	}
}

func TestAuthenticate_PublishesEveryTokenValue(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	sess, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	require.NoError(t, err)
	defer sess.Destroy()
	token, err := sess.AccessToken()
	require.NoError(t, err)

	assert.Equal(t, "token [REDACTED]", h.registry.ScrubString("token "+token))
	assert.Equal(t, "[REDACTED]", h.registry.ScrubString("refresh-flow-1"))
	assert.Equal(t, 0, h.provider.Refreshes())
}

func TestAuthenticate_Denied(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = func(context.Context, *identity.AuthHandle, int) (*identity.PollResult, error) {
		return &identity.PollResult{Status: identity.StatusDenied, Reason: "user declined"}, nil
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeAuthDenied)
	assert.Equal(t, 0, h.secrets.Len())
	assert.Equal(t, []string{"flow-1"}, h.provider.Cancelled())
}

func TestAuthenticate_PendingUntilGranted(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = func(_ context.Context, handle *identity.AuthHandle, n int) (*identity.PollResult, error) {
		switch {
		case n == 2:
			return nil, &identity.TransientError{Err: errors.New("connection reset")}
		case n < 4:
			return &identity.PollResult{Status: identity.StatusPending}, nil
		}
		return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant("steve", "refresh-"+handle.ID)}, nil
	}

	acct, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	require.NoError(t, err)
	assert.Equal(t, "steve", acct.Name)
	assert.Empty(t, h.provider.Cancelled())
}

func TestAuthenticate_FollowsWidenedInterval(t *testing.T) {
	h := newHarness(t)
	var polls []time.Time
	h.provider.PollFunc = func(_ context.Context, handle *identity.AuthHandle, n int) (*identity.PollResult, error) {
		polls = append(polls, time.Now())
		switch n {
		case 1:
			handle.Interval = 40 * time.Millisecond
			return &identity.PollResult{Status: identity.StatusPending}, nil
		case 2:
			return &identity.PollResult{Status: identity.StatusPending}, nil
		default:
			return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant("player", "refresh-"+handle.ID)}, nil
		}
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	require.NoError(t, err)
	require.Len(t, polls, 3)
	assert.GreaterOrEqual(t, polls[2].Sub(polls[1]), 30*time.Millisecond)
}

func TestAuthenticate_ExpiredCode(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = func(context.Context, *identity.AuthHandle, int) (*identity.PollResult, error) {
		return &identity.PollResult{Status: identity.StatusExpired}, nil
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeAuthTimeout)
	assert.Equal(t, 0, h.secrets.Len())
}

func TestAuthenticate_FlowDeadline(t *testing.T) {
	h := newHarness(t)
	h.provider.StartFunc = func(context.Context) (*identity.AuthHandle, error) {
		return &identity.AuthHandle{ID: "short", UserCode: "X", Interval: time.Millisecond, ExpiresAt: time.Now().Add(50 * time.Millisecond)}, nil
	}
	h.provider.PollFunc = func(context.Context, *identity.AuthHandle, int) (*identity.PollResult, error) {
		return &identity.PollResult{Status: identity.StatusPending}, nil
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeAuthTimeout)
	assert.Equal(t, []string{"short"}, h.provider.Cancelled())
}

func TestAuthenticate_ProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.StartFunc = func(context.Context) (*identity.AuthHandle, error) {
		return nil, errors.New("bad client id")
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeProviderError)
}

func pendingForever(ctx context.Context, _ *identity.AuthHandle, _ int) (*identity.PollResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return &identity.PollResult{Status: identity.StatusPending}, nil
	}
}

func TestCancelAuthentication(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, leakOptions()...)
	h.provider.PollFunc = pendingForever

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.provider.Starts() == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.mgr.CancelAuthentication(""))

	select {
	case err := <-done:
		errutil.AssertErrorCode(t, err, credential.CodeAuthCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("authentication did not stop")
	}
	assert.Equal(t, []string{"flow-1"}, h.provider.Cancelled())
	assert.False(t, h.mgr.CancelAuthentication(""))
}

func TestAuthenticate_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = pendingForever

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.mgr.Authenticate(ctx, credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeAuthCancelled)
}

func TestAuthenticate_SecondConcurrentFlowRejected(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = pendingForever

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.provider.Starts() == 1 }, time.Second, time.Millisecond)

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeAuthInProgress)

	h.mgr.CancelAuthentication("")
	<-done
}

func TestAuthenticate_WrongAccountDenied(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	h.provider.PollFunc = func(_ context.Context, handle *identity.AuthHandle, _ int) (*identity.PollResult, error) {
		return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant("alex", "refresh-"+handle.ID)}, nil
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{AccountID: acct.ID})
	errutil.AssertErrorCode(t, err, credential.CodeAuthDenied)
	assert.Equal(t, 1, h.secrets.Len())
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))
}

func TestAuthenticate_MetadataFailureRemovesSecret(t *testing.T) {
	h := newHarness(t)
	h.provider.PollFunc = func(_ context.Context, handle *identity.AuthHandle, _ int) (*identity.PollResult, error) {
		require.NoError(t, h.db.Close())
		h.dbClosed = true
		return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant("player", "refresh-"+handle.ID)}, nil
	}

	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeStoreFailed)
	assert.Equal(t, 0, h.secrets.Len())
}

func TestCurrentSession_ServesCachedCopies(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	ctx := context.Background()

	a, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.NoError(t, err)
	b, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.NoError(t, err)

	a.Destroy()
	assert.True(t, a.Destroyed())
	assert.False(t, b.Destroyed())
	tok, err := b.AccessToken()
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	b.Destroy()

	assert.Equal(t, 0, h.provider.Refreshes())
}

func TestCurrentSession_RefreshesInsideSafetyWindow(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	ctx := context.Background()

	old, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.NoError(t, err)
	oldToken, err := old.AccessToken()
	require.NoError(t, err)
	old.Destroy()

	h.clock.Advance(time.Hour - 30*time.Second)

	sess, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.NoError(t, err)
	defer sess.Destroy()

	assert.Equal(t, 1, h.provider.Refreshes())
	assert.True(t, sess.ExpiresAt.After(h.clock.Now().Add(credential.DefaultSafetyWindow)))
	newToken, err := sess.AccessToken()
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, newToken)

	stored, err := h.secrets.Get(ctx, acct.CredentialRef)
	require.NoError(t, err)
	assert.Equal(t, "refresh-flow-1-r1", string(stored))

	assert.Equal(t, "[REDACTED]", h.registry.ScrubString(newToken))
	assert.Equal(t, "[REDACTED]", h.registry.ScrubString(oldToken), "rotated token stays redacted during grace")

	h.clock.Advance(credential.DefaultGrace + time.Second)
	assert.Equal(t, oldToken, h.registry.ScrubString(oldToken))
}

func TestCurrentSession_SingleFlight(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	defer goleak.VerifyNone(t, leakOptions()...)

	release := make(chan struct{})
	h.provider.RefreshFunc = func(_ context.Context, token string) (*identity.Grant, error) {
		<-release
		return h.provider.NewGrant("player", token+"-next"), nil
	}
	h.clock.Advance(2 * time.Hour)

	const callers = 20
	var wg sync.WaitGroup
	sessions := make([]*credential.Session, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions[i], errs[i] = h.mgr.CurrentSession(context.Background(), acct.ID)
		}()
	}

	require.Eventually(t, func() bool { return h.provider.Refreshes() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, credential.StateRefreshing, h.mgr.State(acct.ID))
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, h.provider.Refreshes())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.True(t, sessions[i].ValidFor(h.clock.Now(), credential.DefaultSafetyWindow))
		sessions[i].Destroy()
	}
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))
}

func TestCurrentSession_NoRefreshDuringSignIn(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	polling := make(chan struct{})
	grant := make(chan struct{})
	h.provider.PollFunc = func(ctx context.Context, handle *identity.AuthHandle, n int) (*identity.PollResult, error) {
		if n == 1 {
			close(polling)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-grant:
			return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant("player", "refresh-"+handle.ID)}, nil
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{AccountID: acct.ID})
		done <- err
	}()
	<-polling

	h.clock.Advance(2 * time.Hour)
	before := h.provider.Refreshes()
	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeAuthInProgress)
	assert.Equal(t, before, h.provider.Refreshes())
	assert.Equal(t, credential.StateAuthenticating, h.mgr.State(acct.ID))

	close(grant)
	require.NoError(t, <-done)

	sess, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	require.NoError(t, err)
	defer sess.Destroy()
	assert.True(t, sess.ValidFor(h.clock.Now(), credential.DefaultSafetyWindow))
	assert.Equal(t, before, h.provider.Refreshes())
}

func TestAuthenticate_RejectedDuringRefresh(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	release := make(chan struct{})
	h.provider.RefreshFunc = func(_ context.Context, token string) (*identity.Grant, error) {
		<-release
		return h.provider.NewGrant("player", token+"-next"), nil
	}
	h.clock.Advance(2 * time.Hour)

	refreshed := make(chan error, 1)
	go func() {
		sess, err := h.mgr.CurrentSession(context.Background(), acct.ID)
		if err == nil {
			sess.Destroy()
		}
		refreshed <- err
	}()
	require.Eventually(t, func() bool { return h.provider.Refreshes() == 1 }, time.Second, time.Millisecond)

	starts := h.provider.Starts()
	_, err := h.mgr.Authenticate(context.Background(), credential.AuthOptions{AccountID: acct.ID})
	errutil.AssertErrorCode(t, err, credential.CodeAuthInProgress)
	assert.Equal(t, starts, h.provider.Starts())

	close(release)
	require.NoError(t, <-refreshed)
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))
}

func TestCurrentSession_CallerMayStopWaiting(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	release := make(chan struct{})
	h.provider.RefreshFunc = func(_ context.Context, token string) (*identity.Grant, error) {
		<-release
		return h.provider.NewGrant("player", token+"-next"), nil
	}
	h.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool {
		return h.mgr.State(acct.ID) == credential.StateAuthenticated
	}, time.Second, time.Millisecond)

	sess, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	require.NoError(t, err)
	sess.Destroy()
	assert.Equal(t, 1, h.provider.Refreshes())
}

func TestCurrentSession_RejectedRequiresReauth(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	sub := h.bus.Subscribe()
	defer sub.Unsubscribe()

	h.provider.RefreshFunc = func(context.Context, string) (*identity.Grant, error) {
		return nil, fmt.Errorf("%w: token revoked", identity.ErrRejected)
	}
	h.clock.Advance(2 * time.Hour)

	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeReauthRequired)
	assert.ErrorIs(t, err, identity.ErrRejected)
	assert.Equal(t, credential.StateReauthRequired, h.mgr.State(acct.ID))

	_, err = h.secrets.Get(context.Background(), acct.CredentialRef)
	assert.ErrorIs(t, err, secret.ErrNotFound)

	_, err = h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeReauthRequired)
	assert.Equal(t, 1, h.provider.Refreshes(), "no refresh is attempted once reauth is required")

	select {
	case ev := <-sub.C():
		assert.Equal(t, events.TypeAccountsChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no accounts changed event")
	}

	h.provider.PollFunc = nil
	_, err = h.mgr.Authenticate(context.Background(), credential.AuthOptions{AccountID: acct.ID})
	require.NoError(t, err)
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))
}

func TestCurrentSession_MissingSecretRequiresReauth(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	require.NoError(t, h.secrets.Delete(context.Background(), acct.CredentialRef))
	h.clock.Advance(2 * time.Hour)

	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeReauthRequired)
	assert.Equal(t, 0, h.provider.Refreshes())
}

func TestCurrentSession_TransientFailuresRetried(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	calls := 0
	h.provider.RefreshFunc = func(_ context.Context, token string) (*identity.Grant, error) {
		calls++
		if calls < 3 {
			return nil, &identity.TransientError{Err: errors.New("503")}
		}
		return h.provider.NewGrant("player", token), nil
	}
	h.clock.Advance(2 * time.Hour)

	sess, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	require.NoError(t, err)
	sess.Destroy()
	assert.Equal(t, 3, calls)
}

func TestCurrentSession_RetriesAreBounded(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	h.provider.RefreshFunc = func(context.Context, string) (*identity.Grant, error) {
		return nil, &identity.TransientError{Err: errors.New("network unreachable")}
	}
	h.clock.Advance(2 * time.Hour)

	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeProviderError)
	assert.Equal(t, 4, h.provider.Refreshes())
	assert.Equal(t, credential.StateAuthenticated, h.mgr.State(acct.ID))

	_, err = h.secrets.Get(context.Background(), acct.CredentialRef)
	assert.NoError(t, err, "transient failures keep the credential")
}

func TestCurrentSession_ShortLivedGrantRejected(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	h.provider.RefreshFunc = func(_ context.Context, token string) (*identity.Grant, error) {
		g := h.provider.NewGrant("player", token)
		g.ExpiresAt = h.clock.Now().Add(10 * time.Second)
		return g, nil
	}
	h.clock.Advance(2 * time.Hour)

	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeProviderError)
}

func TestCurrentSession_UnknownAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.CurrentSession(context.Background(), "00000000-0000-0000-0000-000000000000")
	errutil.AssertErrorCode(t, err, credential.CodeAccountNotFound)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)
	ctx := context.Background()

	sess, err := h.mgr.CurrentSession(ctx, acct.ID)
	require.NoError(t, err)
	defer sess.Destroy()

	require.NoError(t, h.mgr.Logout(ctx, acct.ID))

	assert.Equal(t, 0, h.secrets.Len())
	assert.Equal(t, credential.StateUnauthenticated, h.mgr.State(acct.ID))
	accounts, err := h.mgr.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	_, err = h.mgr.SelectedAccount(ctx)
	errutil.AssertErrorCode(t, err, credential.CodeAccountNotFound)

	_, err = h.mgr.CurrentSession(ctx, acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeAccountNotFound)

	assert.NoError(t, h.mgr.Logout(ctx, acct.ID), "logout is idempotent")
}

func TestSelectAccount(t *testing.T) {
	h := newHarness(t)
	names := []string{"alex", "steve"}
	h.provider.PollFunc = func(_ context.Context, handle *identity.AuthHandle, _ int) (*identity.PollResult, error) {
		name := names[h.provider.Starts()-1]
		return &identity.PollResult{Status: identity.StatusGranted, Grant: h.provider.NewGrant(name, "refresh-"+handle.ID)}, nil
	}
	ctx := context.Background()

	first := h.signIn(t)
	second := h.signIn(t)

	selected, err := h.mgr.SelectedAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, selected.ID, "first account is selected automatically")

	require.NoError(t, h.mgr.SelectAccount(ctx, second.ID))
	selected, err = h.mgr.SelectedAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, selected.ID)

	err = h.mgr.SelectAccount(ctx, "missing")
	errutil.AssertErrorCode(t, err, credential.CodeAccountNotFound)

	accounts, err := h.mgr.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alex", accounts[0].Name)
	assert.Equal(t, "steve", accounts[1].Name)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	acct := h.signIn(t)

	require.NoError(t, h.mgr.Close())
	require.NoError(t, h.mgr.Close())

	_, err := h.mgr.CurrentSession(context.Background(), acct.ID)
	errutil.AssertErrorCode(t, err, credential.CodeClosed)
	_, err = h.mgr.Authenticate(context.Background(), credential.AuthOptions{})
	errutil.AssertErrorCode(t, err, credential.CodeClosed)
}
