package middleware

import (
	"log"
	"net/http"

	"buildboard/backend/internal/session/flash"
	userdomain "buildboard/backend/internal/user/domain"
)

// MsgLoginRequired is the alert shown when a protected page is opened without a session.
const MsgLoginRequired = "You must be logged in to access this page"

// CurrentUserFunc resolves the signed-in user for r. *session.Manager's CurrentUser satisfies it.
type CurrentUserFunc func(r *http.Request) (*userdomain.User, error)

// RequireUser lets signed-in requests through and redirects everyone else to / with an alert.
func RequireUser(current CurrentUserFunc, secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := current(r)
			if err != nil {
				log.Printf("http: load current user: %v", err)
			}
			if u == nil {
				flash.Write(w, flash.NewAlert(MsgLoginRequired), secureCookies)
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
