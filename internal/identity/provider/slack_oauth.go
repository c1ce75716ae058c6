package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// slackUserIDClaim is the OIDC claim carrying the Slack member id.
const slackUserIDClaim = "https://slack.com/user_id"

var slackScopes = []string{"openid", "profile", "email"}

// ExchangeError is returned when the code exchange or the user info request fails.
// Code is the OAuth error code when the provider sent one, otherwise a local classification.
type ExchangeError struct {
	Code string
	Err  error
}

func (e *ExchangeError) Error() string { return fmt.Sprintf("slack oauth %s: %v", e.Code, e.Err) }

func (e *ExchangeError) Unwrap() error { return e.Err }

// SlackOAuthConfig configures the Slack OpenID Connect client.
type SlackOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	// HTTPClient is used for the token and user info requests; nil uses a client with a 10s timeout.
	HTTPClient *http.Client
}

// SlackOAuth runs the Slack "Sign in with Slack" authorization code flow.
type SlackOAuth struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewSlackOAuth returns a Slack OIDC client for cfg.
func NewSlackOAuth(cfg SlackOAuthConfig) *SlackOAuth {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackOAuth{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       slackScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		client:      client,
	}
}

// Name is the provider name used in routes and payloads.
func (s *SlackOAuth) Name() string { return "slack" }

// AuthCodeURL returns the Slack authorize URL for state.
// Identity comes from the userinfo endpoint, not an id_token, so no nonce is sent.
func (s *SlackOAuth) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange trades code for tokens, fetches the user info claims, and builds the callback payload.
func (s *SlackOAuth) Exchange(ctx context.Context, code string) (*AuthPayload, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Code: oauthErrorCode(err), Err: err}
	}

	claims, err := s.userInfo(ctx, tok)
	if err != nil {
		return nil, &ExchangeError{Code: "invalid_credentials", Err: err}
	}

	p := &AuthPayload{
		Provider: s.Name(),
		UID:      stringClaim(claims, slackUserIDClaim),
		Info: Info{
			Name:  stringClaim(claims, "name"),
			Email: stringClaim(claims, "email"),
		},
		Credentials: Credentials{Token: tok.AccessToken, RefreshToken: tok.RefreshToken},
		Extra:       Extra{RawInfo: claims, UserID: tokenUserID(tok)},
	}
	return p, nil
}

func (s *SlackOAuth) userInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info: status %d", resp.StatusCode)
	}
	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	// Slack reports API failures as 200 with ok=false.
	if ok, present := claims["ok"].(bool); present && !ok {
		return nil, fmt.Errorf("user info: %s", stringClaim(claims, "error"))
	}
	return claims, nil
}

func oauthErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return re.ErrorCode
	}
	return "invalid_credentials"
}

// tokenUserID reads the user id Slack may put in the token response.
func tokenUserID(tok *oauth2.Token) string {
	if au, ok := tok.Extra("authed_user").(map[string]any); ok {
		if id, ok := au["id"].(string); ok && id != "" {
			return id
		}
	}
	if id, ok := tok.Extra("user_id").(string); ok {
		return id
	}
	return ""
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
