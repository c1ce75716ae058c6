// Package provider turns external OAuth callback data into identity links. Each supported
// provider registers a Resolver under its name; the callback flow looks resolvers up by name.
package provider

// AuthPayload is the provider-neutral shape of an OAuth callback.
type AuthPayload struct {
	Provider    string
	UID         string
	Info        Info
	Credentials Credentials
	Extra       Extra
}

// Info is the profile the provider reported.
type Info struct {
	Name  string
	Email string
}

// Credentials are the tokens issued by the provider. RefreshToken is empty when none was issued.
type Credentials struct {
	Token        string
	RefreshToken string
}

// Extra carries provider-specific data that does not fit Info.
type Extra struct {
	// RawInfo holds every claim from the provider's user info response.
	RawInfo map[string]any
	// UserID is a user id found outside the user info claims (e.g. in the token response).
	UserID string
}

// SubjectID returns the external subject id, checking UID, then RawInfo["sub"], then Extra.UserID.
// The order matters: providers populate these differently and the first non-empty value wins.
func (p *AuthPayload) SubjectID() string {
	if p == nil {
		return ""
	}
	if p.UID != "" {
		return p.UID
	}
	if sub, ok := p.Extra.RawInfo["sub"].(string); ok && sub != "" {
		return sub
	}
	return p.Extra.UserID
}
