package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	auditdomain "buildboard/backend/internal/audit/domain"
	"buildboard/backend/internal/session"
	"buildboard/backend/internal/session/flash"
	userdomain "buildboard/backend/internal/user/domain"
)

// ActivityLister returns a user's newest audit entries.
type ActivityLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

const recentActivityLimit = 10

type pages struct {
	sessions      *session.Manager
	activity      ActivityLister
	secureCookies bool
}

type userJSON struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func toUserJSON(u *userdomain.User) *userJSON {
	if u == nil {
		return nil
	}
	return &userJSON{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
}

type homeResponse struct {
	SignedIn bool          `json:"signed_in"`
	User     *userJSON     `json:"user,omitempty"`
	Flash    *flash.Notice `json:"flash,omitempty"`
}

// home is the landing page: who is signed in, plus any pending notice.
// GET /
func (p *pages) home(w http.ResponseWriter, r *http.Request) {
	var resp homeResponse
	if n, ok := flash.ReadAndClear(w, r, p.secureCookies); ok {
		resp.Flash = &n
	}
	u := p.currentUser(r)
	resp.SignedIn = u != nil
	resp.User = toUserJSON(u)
	writeJSON(w, http.StatusOK, resp)
}

// projects is the signed-in landing area. RequireUser guards it.
// GET /projects
func (p *pages) projects(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"user": toUserJSON(p.currentUser(r))}
	if n, ok := flash.ReadAndClear(w, r, p.secureCookies); ok {
		resp["flash"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type activityJSON struct {
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

type meResponse struct {
	*userJSON
	RecentActivity []activityJSON `json:"recent_activity,omitempty"`
}

// me returns the signed-in user and their recent sign-in activity, or 401.
// GET /me
func (p *pages) me(w http.ResponseWriter, r *http.Request) {
	u := p.currentUser(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	resp := meResponse{userJSON: toUserJSON(u)}
	if p.activity != nil {
		logs, err := p.activity.ListByUser(r.Context(), u.ID, recentActivityLimit)
		if err != nil {
			log.Printf("http: list activity for user %s: %v", u.ID, err)
		}
		for _, a := range logs {
			resp.RecentActivity = append(resp.RecentActivity, activityJSON{Action: a.Action, IP: a.IP, CreatedAt: a.CreatedAt})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *pages) currentUser(r *http.Request) *userdomain.User {
	u, err := p.sessions.CurrentUser(r)
	if err != nil {
		log.Printf("http: load current user: %v", err)
		return nil
	}
	return u
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: write response: %v", err)
	}
}
