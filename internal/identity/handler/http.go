// Package handler serves the browser side of sign-in: the provider redirect, the callback, the failure page, and sign-out.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"buildboard/backend/internal/identity/provider"
	"buildboard/backend/internal/identity/service"
	"buildboard/backend/internal/security"
	sessiondomain "buildboard/backend/internal/session/domain"
	"buildboard/backend/internal/session/flash"
)

// Flash messages shown after a redirect.
const (
	MsgSignedIn            = "Signed in with Slack"
	MsgNoAuthData          = "Authentication failed - no auth data"
	MsgNoSubject           = "Authentication failed - no user ID received from Slack"
	MsgUnsupportedProvider = "Authentication failed or user already signed in"
	MsgUnexpected          = "Authentication failed. Please try again."
	MsgSessionExpired      = "Authentication session expired. Please try signing in again."
	MsgSignedOut           = "Signed out"
)

const (
	stateCookie    = "oauth_state"
	stateMaxAge    = 600
	stateBytes     = 24
	landingPath    = "/projects"
	rootPath       = "/"
	failurePath    = "/auth/failure"
	oauth2ErrorTag = "oauth2_error"
)

// OAuthClient runs one provider's authorization code flow. *provider.SlackOAuth satisfies it.
type OAuthClient interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*provider.AuthPayload, error)
}

// CallbackHandler is the callback orchestration the handler delegates to.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, p *provider.AuthPayload) (*service.CallbackResult, error)
	SignOut(ctx context.Context, userID string)
}

// SessionStore reads and writes the session cookie. *session.Manager satisfies it.
type SessionStore interface {
	Session(r *http.Request) sessiondomain.Session
	Establish(w http.ResponseWriter, r *http.Request, userID string) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// Config holds cookie settings for the handler.
type Config struct {
	CookieSecure bool
}

// AuthHandler serves /auth/* and /logout.
type AuthHandler struct {
	clients   map[string]OAuthClient
	callbacks CallbackHandler
	sessions  SessionStore
	cfg       Config
}

// NewAuthHandler returns an AuthHandler for the given provider clients.
func NewAuthHandler(callbacks CallbackHandler, sessions SessionStore, cfg Config, clients ...OAuthClient) *AuthHandler {
	h := &AuthHandler{
		clients:   make(map[string]OAuthClient, len(clients)),
		callbacks: callbacks,
		sessions:  sessions,
		cfg:       cfg,
	}
	for _, c := range clients {
		h.clients[strings.ToLower(c.Name())] = c
	}
	return h
}

// Routes mounts the sign-in routes on r.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Get("/auth/failure", h.Failure)
	r.Get("/auth/{provider}", h.Login)
	r.Get("/auth/{provider}/callback", h.Callback)
	r.Delete("/logout", h.Logout)
	r.Post("/logout", h.Logout)
}

func (h *AuthHandler) client(r *http.Request) (OAuthClient, bool) {
	c, ok := h.clients[strings.ToLower(chi.URLParam(r, "provider"))]
	return c, ok
}

// Login starts the provider flow.
// GET /auth/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	state, err := security.RandomHex(stateBytes)
	if err != nil {
		log.Printf("auth: generate state: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.setStateCookie(w, state, stateMaxAge)
	http.Redirect(w, r, c.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the provider flow and signs the user in.
// GET /auth/{provider}/callback?code=...&state=...
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.redirectFailure(w, r, providerErr, url.Values{"strategy": {c.Name()}})
		return
	}

	cookie, err := r.Cookie(stateCookie)
	h.setStateCookie(w, "", -1)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		log.Printf("auth: %s callback state mismatch", c.Name())
		h.redirectFailure(w, r, "csrf_detected", url.Values{"strategy": {c.Name()}})
		return
	}
	code := q.Get("code")
	if code == "" {
		h.redirectFailure(w, r, "invalid_credentials", url.Values{"strategy": {c.Name()}})
		return
	}

	payload, err := c.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("auth: %s exchange: %v", c.Name(), err)
		reason := "invalid_credentials"
		var xe *provider.ExchangeError
		if errors.As(err, &xe) && xe.Code != "" {
			reason = xe.Code
		}
		h.redirectFailure(w, r, reason, url.Values{"strategy": {c.Name()}, "error_type": {oauth2ErrorTag}})
		return
	}

	h.complete(w, r, payload)
}

// complete hands the payload to the callback service and establishes the session.
func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, p *provider.AuthPayload) {
	res, err := h.callbacks.HandleCallback(r.Context(), p)
	if err != nil {
		log.Printf("auth: callback: %v", err)
		h.redirectAlert(w, r, callbackAlert(err))
		return
	}
	if err := h.sessions.Establish(w, r, res.User.ID); err != nil {
		log.Printf("auth: establish session: %v", err)
		h.redirectAlert(w, r, MsgUnexpected)
		return
	}
	log.Printf("auth: user %s signed in via %s (new=%t)", res.User.ID, p.Provider, res.Created)
	flash.Write(w, flash.NewNotice(MsgSignedIn), h.cfg.CookieSecure)
	http.Redirect(w, r, landingPath, http.StatusFound)
}

func callbackAlert(err error) string {
	switch {
	case errors.Is(err, service.ErrNoAuthData):
		return MsgNoAuthData
	case errors.Is(err, service.ErrSubjectMissing):
		return MsgNoSubject
	case errors.Is(err, service.ErrUnsupportedProvider):
		return MsgUnsupportedProvider
	default:
		return MsgUnexpected
	}
}

// Failure shows why sign-in failed.
// GET /auth/failure?message=...&error_type=...
func (h *AuthHandler) Failure(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg := q.Get("message")
	if msg == "" {
		msg = "Unknown error"
	}
	errorType := q.Get("error_type")
	log.Printf("auth: failure: %s - %s", errorType, msg)
	h.redirectAlert(w, r, FailureMessage(msg, errorType))
}

// FailureMessage picks the alert for a failed sign-in. A replayed code or a token exchange error asks the user to retry.
func FailureMessage(msg, errorType string) string {
	if strings.Contains(msg, "code_already_used") || strings.Contains(strings.ToLower(errorType), oauth2ErrorTag) {
		return MsgSessionExpired
	}
	if msg == "" {
		msg = "Unknown error"
	}
	return "Authentication failed: " + msg
}

// Logout signs the user out.
// DELETE /logout, POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.Session(r).UserID
	if err := h.sessions.Clear(w, r); err != nil {
		log.Printf("auth: clear session: %v", err)
	}
	h.callbacks.SignOut(r.Context(), userID)
	flash.Write(w, flash.NewNotice(MsgSignedOut), h.cfg.CookieSecure)
	http.Redirect(w, r, rootPath, http.StatusSeeOther)
}

func (h *AuthHandler) redirectAlert(w http.ResponseWriter, r *http.Request, msg string) {
	flash.Write(w, flash.NewAlert(msg), h.cfg.CookieSecure)
	http.Redirect(w, r, rootPath, http.StatusFound)
}

func (h *AuthHandler) redirectFailure(w http.ResponseWriter, r *http.Request, message string, extra url.Values) {
	v := url.Values{"message": {message}}
	for k, vals := range extra {
		v[k] = vals
	}
	http.Redirect(w, r, failurePath+"?"+v.Encode(), http.StatusFound)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
