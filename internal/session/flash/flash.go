// Package flash carries one-time notices across a redirect in a short-lived cookie.
package flash

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// CookieName is the cookie holding the pending notice.
const CookieName = "flash"

// Kind classifies a notice.
type Kind string

const (
	KindNotice Kind = "notice"
	KindAlert  Kind = "alert"
)

// Notice is one message shown on the next request.
type Notice struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// NewNotice returns an informational notice.
func NewNotice(msg string) Notice { return Notice{Kind: KindNotice, Message: msg} }

// NewAlert returns an error notice.
func NewAlert(msg string) Notice { return Notice{Kind: KindAlert, Message: msg} }

// Write stores n for the next request. secure sets the cookie's Secure attribute.
func Write(w http.ResponseWriter, n Notice, secure bool) {
	n, ok := normalize(n)
	if !ok {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadAndClear returns the pending notice, if any, and expires the cookie.
func ReadAndClear(w http.ResponseWriter, r *http.Request, secure bool) (Notice, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Notice{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	return decode(c.Value)
}

func decode(raw string) (Notice, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return Notice{}, false
	}
	var n Notice
	if err := json.Unmarshal(decoded, &n); err != nil {
		return Notice{}, false
	}
	return normalize(n)
}

func normalize(n Notice) (Notice, bool) {
	n.Message = strings.TrimSpace(n.Message)
	if n.Message == "" {
		return Notice{}, false
	}
	n.Kind = Kind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
	switch n.Kind {
	case KindNotice, KindAlert:
		return n, true
	}
	return Notice{}, false
}
