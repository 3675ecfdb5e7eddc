// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"
)

// Endpoints are the URLs of every service in the sign-in chain.
type Endpoints struct {
	DeviceAuthURL   string
	TokenURL        string
	XboxUserAuthURL string
	XSTSAuthURL     string
	GameLoginURL    string
	ProfileURL      string
}

// DefaultEndpoints returns the production endpoints for a Microsoft tenant
// ("consumers" for personal accounts).
func DefaultEndpoints(tenant string) Endpoints {
	base := "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0"
	return Endpoints{
		DeviceAuthURL:   base + "/devicecode",
		TokenURL:        base + "/token",
		XboxUserAuthURL: "https://user.auth.xboxlive.com/user/authenticate",
		XSTSAuthURL:     "https://xsts.auth.xboxlive.com/xsts/authorize",
		GameLoginURL:    "https://api.minecraftservices.com/authentication/login_with_xbox",
		ProfileURL:      "https://api.minecraftservices.com/minecraft/profile",
	}
}

// Scopes requested from the Microsoft identity platform.
var Scopes = []string{"XboxLive.signin", "offline_access"}

// MicrosoftConfig configures the Microsoft provider.
type MicrosoftConfig struct {
	ClientID   string
	Tenant     string
	Endpoints  *Endpoints
	HTTPClient *http.Client
	Now        func() time.Time
}

// Microsoft signs users in with the OAuth 2.0 device authorization grant and
// turns the resulting Microsoft token into a game session.
type Microsoft struct {
	oauth  *oauth2.Config
	client *http.Client
	xbox   *exchanger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*oauth2.DeviceAuthResponse
}

var _ Provider = (*Microsoft)(nil)

// NewMicrosoft creates the Microsoft provider.
func NewMicrosoft(cfg MicrosoftConfig) (*Microsoft, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("identity: client id is required (set auth.client_id)")
	}
	if cfg.Tenant == "" {
		cfg.Tenant = "consumers"
	}
	endpoints := DefaultEndpoints(cfg.Tenant)
	if cfg.Endpoints != nil {
		endpoints = *cfg.Endpoints
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Microsoft{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   Scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: endpoints.DeviceAuthURL,
				TokenURL:      endpoints.TokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		client:  cfg.HTTPClient,
		xbox:    &exchanger{client: cfg.HTTPClient, endpoints: endpoints, now: cfg.Now},
		now:     cfg.Now,
		pending: make(map[string]*oauth2.DeviceAuthResponse),
	}, nil
}

func (m *Microsoft) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}

// StartAuthFlow implements Provider.
func (m *Microsoft) StartAuthFlow(ctx context.Context) (*AuthHandle, error) {
	resp, err := m.oauth.DeviceAuth(m.withClient(ctx))
	if err != nil {
		return nil, classifyOAuthError(err)
	}

	if resp.Interval <= 0 {
		resp.Interval = 5
	}
	interval := time.Duration(resp.Interval) * time.Second
	expires := resp.Expiry
	if expires.IsZero() {
		expires = m.now().Add(15 * time.Minute)
	}

	id := ulid.Make().String()
	m.mu.Lock()
	m.pending[id] = resp
	m.mu.Unlock()

	return &AuthHandle{
		ID:                      id,
		UserCode:                resp.UserCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		Interval:                interval,
		ExpiresAt:               expires,
	}, nil
}

// PollAuthFlow implements Provider. The oauth2 package paces its own token
// requests, so one poll waits at most one and a half intervals for it to
// make a single attempt. When the server asks to slow down, the interval
// grows by five seconds for the rest of the flow and handle.Interval
// reports the new pace.
func (m *Microsoft) PollAuthFlow(ctx context.Context, handle *AuthHandle) (*PollResult, error) {
	m.mu.Lock()
	resp, ok := m.pending[handle.ID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrFlowNotFound
	}
	if !m.now().Before(handle.ExpiresAt) {
		m.forget(handle.ID)
		return &PollResult{Status: StatusExpired}, nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, handle.Interval+handle.Interval/2)
	defer cancel()

	watcher := &slowDownWatcher{next: m.client.Transport}
	client := *m.client
	client.Transport = watcher
	tok, err := m.oauth.DeviceAccessToken(context.WithValue(pollCtx, oauth2.HTTPClient, &client), resp)
	if watcher.seen.Load() {
		m.slowDown(handle, resp)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			if !m.now().Before(handle.ExpiresAt) {
				m.forget(handle.ID)
				return &PollResult{Status: StatusExpired}, nil
			}
			return &PollResult{Status: StatusPending}, nil
		}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			switch re.ErrorCode {
			case "authorization_declined", "access_denied":
				m.forget(handle.ID)
				return &PollResult{Status: StatusDenied, Reason: re.ErrorDescription}, nil
			case "expired_token":
				m.forget(handle.ID)
				return &PollResult{Status: StatusExpired}, nil
			}
		}
		return nil, classifyOAuthError(err)
	}
	m.forget(handle.ID)

	grant, err := m.xbox.exchange(ctx, tok.AccessToken)
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			return &PollResult{Status: StatusDenied, Reason: denied.Reason}, nil
		}
		return nil, err
	}
	grant.RefreshToken = tok.RefreshToken
	return &PollResult{Status: StatusGranted, Grant: grant}, nil
}

func (m *Microsoft) slowDown(handle *AuthHandle, resp *oauth2.DeviceAuthResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp.Interval += 5
	handle.Interval = time.Duration(resp.Interval) * time.Second
}

// slowDownWatcher notes a slow_down answer from the token endpoint, which
// the oauth2 package otherwise absorbs.
type slowDownWatcher struct {
	next http.RoundTripper
	seen atomic.Bool
}

func (w *slowDownWatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	next := w.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err != nil || resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error == "slow_down" {
		w.seen.Store(true)
	}
	return resp, nil
}

// CancelAuthFlow implements Provider.
func (m *Microsoft) CancelAuthFlow(_ context.Context, handle *AuthHandle) error {
	m.forget(handle.ID)
	return nil
}

// Refresh implements Provider.
func (m *Microsoft) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	src := m.oauth.TokenSource(m.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, re.ErrorDescription)
		}
		return nil, classifyOAuthError(err)
	}

	grant, err := m.xbox.exchange(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	grant.RefreshToken = tok.RefreshToken
	return grant, nil
}

// Pending returns the number of device flows awaiting completion.
func (m *Microsoft) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Microsoft) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func classifyOAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && (re.Response.StatusCode >= 500 || re.Response.StatusCode == http.StatusTooManyRequests) {
			return &TransientError{Err: err}
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransientError{Err: err}
}
