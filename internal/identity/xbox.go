// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// XSTS XErr codes with a user-facing meaning.
const (
	xerrNoXboxAccount = 2148916233
	xerrRegionBlocked = 2148916235
	xerrAdultVerify   = 2148916236
	xerrChildAccount  = 2148916238
)

type xboxAuthRequest struct {
	Properties   map[string]any `json:"Properties"`
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
}

type xboxAuthResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []map[string]string `json:"xui"`
	} `json:"DisplayClaims"`
}

type xstsError struct {
	XErr    int64  `json:"XErr"`
	Message string `json:"Message"`
}

type gameLoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type profileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// exchanger walks the chain from a provider access token to a game session:
// Xbox Live user token, XSTS token, game services login, game profile.
type exchanger struct {
	client    *http.Client
	endpoints Endpoints
	now       func() time.Time
}

func (x *exchanger) exchange(ctx context.Context, msaAccessToken string) (*Grant, error) {
	xbl, err := x.userToken(ctx, msaAccessToken)
	if err != nil {
		return nil, err
	}
	xsts, uhs, xuid, err := x.xstsToken(ctx, xbl)
	if err != nil {
		return nil, err
	}
	login, err := x.gameLogin(ctx, uhs, xsts)
	if err != nil {
		return nil, err
	}
	profile, err := x.profile(ctx, login.AccessToken)
	if err != nil {
		return nil, err
	}

	expiresAt, err := x.expiry(login)
	if err != nil {
		return nil, err
	}
	return &Grant{
		AccessToken:  login.AccessToken,
		ExpiresAt:    expiresAt,
		Profile:      *profile,
		XUID:         xuid,
		UserType:     "msa",
		Intermediate: []string{msaAccessToken, xbl, xsts},
	}, nil
}

func (x *exchanger) userToken(ctx context.Context, msaAccessToken string) (string, error) {
	req := xboxAuthRequest{
		Properties: map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  "d=" + msaAccessToken,
		},
		RelyingParty: "http://auth.xboxlive.com",
		TokenType:    "JWT",
	}
	var resp xboxAuthResponse
	if err := x.postJSON(ctx, x.endpoints.XboxUserAuthURL, "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("xbox live: empty token")
	}
	return resp.Token, nil
}

func (x *exchanger) xstsToken(ctx context.Context, xbl string) (token, uhs, xuid string, err error) {
	req := xboxAuthRequest{
		Properties: map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{xbl},
		},
		RelyingParty: "rp://api.minecraftservices.com/",
		TokenType:    "JWT",
	}
	var resp xboxAuthResponse
	if err := x.postJSON(ctx, x.endpoints.XSTSAuthURL, "", req, &resp); err != nil {
		return "", "", "", err
	}
	if len(resp.DisplayClaims.XUI) == 0 || resp.DisplayClaims.XUI[0]["uhs"] == "" {
		return "", "", "", fmt.Errorf("xsts: response has no user hash")
	}
	claims := resp.DisplayClaims.XUI[0]
	return resp.Token, claims["uhs"], claims["xid"], nil
}

func (x *exchanger) gameLogin(ctx context.Context, uhs, xsts string) (*gameLoginResponse, error) {
	req := map[string]string{"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", uhs, xsts)}
	var resp gameLoginResponse
	if err := x.postJSON(ctx, x.endpoints.GameLoginURL, "", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("game login: empty access token")
	}
	return &resp, nil
}

func (x *exchanger) profile(ctx context.Context, accessToken string) (*Profile, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, x.endpoints.ProfileURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")

	var resp profileResponse
	if err := x.do(httpReq, &resp); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("profile: invalid id %q: %w", resp.ID, err)
	}
	return &Profile{ID: id, Name: resp.Name}, nil
}

// expiry prefers the lifetime from the login response and falls back to the
// token's own exp claim.
func (x *exchanger) expiry(login *gameLoginResponse) (time.Time, error) {
	if login.ExpiresIn > 0 {
		return x.now().Add(time.Duration(login.ExpiresIn) * time.Second), nil
	}
	tok, _, err := jwt.NewParser().ParseUnverified(login.AccessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("game token has no lifetime: %w", err)
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("game token has no exp claim")
	}
	return exp.Time, nil
}

func (x *exchanger) postJSON(ctx context.Context, url, bearer string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-xbl-contract-version", "1")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	return x.do(httpReq, out)
}

func (x *exchanger) do(httpReq *http.Request, out any) error {
	resp, err := x.client.Do(httpReq)
	if err != nil {
		if ctxErr := httpReq.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Err: err}
	}

	host := httpReq.URL.Host
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("%s: http %d", host, resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized && httpReq.URL.String() == x.endpoints.XSTSAuthURL:
		var xe xstsError
		_ = json.Unmarshal(body, &xe)
		return &DeniedError{Reason: xstsReason(xe.XErr)}
	case resp.StatusCode == http.StatusNotFound && httpReq.URL.String() == x.endpoints.ProfileURL:
		return &DeniedError{Reason: "account does not own the game"}
	default:
		return fmt.Errorf("%s: http %d", host, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", host, err)
	}
	return nil
}

func xstsReason(code int64) string {
	switch code {
	case xerrNoXboxAccount:
		return "account has no Xbox profile"
	case xerrRegionBlocked:
		return "Xbox Live is unavailable in this region"
	case xerrAdultVerify:
		return "account requires adult verification"
	case xerrChildAccount:
		return "child account must be added to a family"
	default:
		return fmt.Sprintf("xsts authorization refused (XErr %d)", code)
	}
}
