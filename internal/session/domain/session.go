package domain

// State is where a session sits in the sign-in lifecycle.
type State int

const (
	// StateAnonymous: no user reference and never explicitly signed out.
	StateAnonymous State = iota
	// StateAuthenticated: a user reference is present.
	StateAuthenticated
	// StateSignedOut: the user explicitly signed out; the reference was cleared.
	StateSignedOut
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateSignedOut:
		return "signed_out"
	default:
		return "anonymous"
	}
}

// Session is the client-held, server-signed sign-in state.
type Session struct {
	UserID    string
	SignedOut bool
}

// Establish points the session at userID and clears the signed-out flag.
func (s *Session) Establish(userID string) {
	s.UserID = userID
	s.SignedOut = false
}

// Clear drops the user reference and marks the session signed out.
func (s *Session) Clear() {
	s.UserID = ""
	s.SignedOut = true
}

// State reports the lifecycle state. A signed-out flag wins over a leftover user reference.
func (s Session) State() State {
	switch {
	case s.SignedOut:
		return StateSignedOut
	case s.UserID != "":
		return StateAuthenticated
	default:
		return StateAnonymous
	}
}
