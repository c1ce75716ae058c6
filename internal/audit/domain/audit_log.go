package domain

import "time"

// Audit actions recorded by the sign-in flow.
const (
	ActionLoginSuccess = "login_success"
	ActionLoginFailure = "login_failure"
	ActionLogout       = "logout"
	ActionSignup       = "signup"
)

// ResourceSession is the resource name for sign-in and sign-out events.
const ResourceSession = "session"

// AuditLog represents an audit event. UserID is empty when the actor is unknown (e.g. a failed sign-in).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
