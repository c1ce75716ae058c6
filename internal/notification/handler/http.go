// Package handler exposes the notification dispatcher over HTTP for diagnostics.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"buildboard/backend/internal/notification"
	userdomain "buildboard/backend/internal/user/domain"
)

// DefaultSubject is used when POST /emails/test carries no subject.
const DefaultSubject = "Test Email"

const maxBodyBytes = 64 << 10

// Response messages for rejected requests.
const (
	errEmailRequired  = "Email parameter is required"
	errInvalidEmail   = "Invalid email format"
	errUserIDRequired = "user_id parameter is required"
	errUserNotFound   = "User not found"
)

// Sender is the dispatcher surface the handler needs. *notification.Dispatcher satisfies it.
type Sender interface {
	SendTestEmail(ctx context.Context, recipient, subject string) (notification.Result, error)
	SendSignupConfirmation(ctx context.Context, u *userdomain.User) notification.Result
}

// UserFinder loads users by id; it returns nil, nil when the user does not exist.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// EmailHandler serves /emails/*.
type EmailHandler struct {
	sender  Sender
	users   UserFinder
	timeout time.Duration
}

// NewEmailHandler returns an EmailHandler. Each send is bounded by timeout; timeout <= 0 defaults to 10s.
func NewEmailHandler(sender Sender, users UserFinder, timeout time.Duration) *EmailHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailHandler{sender: sender, users: users, timeout: timeout}
}

// Routes mounts the email routes on r. Middlewares (e.g. rate limiting) apply to both routes.
func (h *EmailHandler) Routes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.Route("/emails", func(r chi.Router) {
		r.Use(middlewares...)
		r.Post("/test", h.Test)
		r.Post("/test_signup", h.TestSignup)
	})
}

type emailParams struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	UserID  string `json:"user_id"`
}

type userJSON struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Test sends a diagnostic email.
// POST /emails/test  email=...&subject=...
func (h *EmailHandler) Test(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		subject = DefaultSubject
	}
	email := strings.TrimSpace(p.Email)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.sender.SendTestEmail(ctx, email, subject)
	switch {
	case errors.Is(err, notification.ErrEmailRequired):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errEmailRequired})
		return
	case errors.Is(err, notification.ErrInvalidEmail):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errInvalidEmail})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": res.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": res.Message, "email": email})
}

// TestSignup re-sends the signup confirmation to an existing user.
// POST /emails/test_signup  user_id=...
func (h *EmailHandler) TestSignup(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errUserIDRequired})
		return
	}
	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		log.Printf("emails: load user %s: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": errUserNotFound})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res := h.sender.SendSignupConfirmation(ctx, u)
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "error": res.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": res.Message,
		"user":    userJSON{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName},
	})
}

// readParams reads a JSON body or form/query values.
func readParams(w http.ResponseWriter, r *http.Request) (emailParams, error) {
	var p emailParams
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return p, errors.New("invalid JSON body")
		}
		return p, nil
	}
	if err := r.ParseForm(); err != nil {
		return p, errors.New("invalid form body")
	}
	p.Email = r.FormValue("email")
	p.Subject = r.FormValue("subject")
	p.UserID = r.FormValue("user_id")
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("emails: write response: %v", err)
	}
}
