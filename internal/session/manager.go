// Package session keeps sign-in state in a signed cookie and resolves the current user once per request.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"buildboard/backend/internal/security"
	"buildboard/backend/internal/session/domain"
	userdomain "buildboard/backend/internal/user/domain"
)

// UserFinder loads users by id; it returns nil, nil when the user does not exist.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Options configures the session cookie.
type Options struct {
	CookieName string
	Secure     bool
}

// Manager reads and writes the session cookie.
type Manager struct {
	signer *security.SessionSigner
	users  UserFinder
	opts   Options
}

// NewManager returns a Manager signing cookies with signer and loading users from users.
func NewManager(signer *security.SessionSigner, users UserFinder, opts Options) (*Manager, error) {
	if signer == nil {
		return nil, errors.New("session: signer is required")
	}
	if opts.CookieName == "" {
		return nil, errors.New("session: cookie name is required")
	}
	return &Manager{signer: signer, users: users, opts: opts}, nil
}

type stateKey struct{}

// requestState holds the decoded session and the memoized user lookup for one request.
type requestState struct {
	mu       sync.Mutex
	sess     domain.Session
	userDone bool
	user     *userdomain.User
	userErr  error
}

// Middleware decodes the session cookie once and attaches it to the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &requestState{sess: m.decode(r)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), stateKey{}, st)))
	})
}

func (m *Manager) state(r *http.Request) *requestState {
	if st, ok := r.Context().Value(stateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{sess: m.decode(r)}
}

// decode reads the cookie. A missing, expired, or tampered cookie reads as anonymous.
func (m *Manager) decode(r *http.Request) domain.Session {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil || c.Value == "" {
		return domain.Session{}
	}
	claims, err := m.signer.Verify(c.Value)
	if err != nil {
		return domain.Session{}
	}
	return domain.Session{UserID: claims.UserID, SignedOut: claims.SignedOut}
}

// Session returns the decoded session for r.
func (m *Manager) Session(r *http.Request) domain.Session {
	st := m.state(r)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sess
}

// Establish signs userID into the session cookie and clears the signed-out flag.
func (m *Manager) Establish(w http.ResponseWriter, r *http.Request, userID string) error {
	if userID == "" {
		return errors.New("session: user id is required")
	}
	st := m.state(r)
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.sess
	next.Establish(userID)
	if err := m.write(w, next); err != nil {
		return err
	}
	st.sess = next
	st.userDone, st.user, st.userErr = false, nil, nil
	return nil
}

// Clear marks the session signed out and drops the user reference.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) error {
	st := m.state(r)
	st.mu.Lock()
	defer st.mu.Unlock()
	next := st.sess
	next.Clear()
	if err := m.write(w, next); err != nil {
		return err
	}
	st.sess = next
	st.userDone, st.user, st.userErr = true, nil, nil
	return nil
}

// CurrentUser returns the signed-in user, or nil when the session is anonymous, signed out,
// or points at a user that no longer exists. The lookup runs at most once per request.
func (m *Manager) CurrentUser(r *http.Request) (*userdomain.User, error) {
	st := m.state(r)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.userDone {
		return st.user, st.userErr
	}
	st.userDone = true
	if st.sess.State() != domain.StateAuthenticated || m.users == nil {
		return nil, nil
	}
	st.user, st.userErr = m.users.GetByID(r.Context(), st.sess.UserID)
	return st.user, st.userErr
}

func (m *Manager) write(w http.ResponseWriter, s domain.Session) error {
	token, err := m.signer.Sign(s.UserID, s.SignedOut)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.signer.TTL() / time.Second),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
