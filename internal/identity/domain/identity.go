package domain

import (
	"errors"
	"time"

	userdomain "buildboard/backend/internal/user/domain"
)

// Identity links an external account (provider + subject id) to exactly one local user.
// (Provider, ProviderID) is unique.
type Identity struct {
	ID           string
	UserID       string
	Provider     IdentityProvider
	ProviderID   string
	AccessToken  string
	RefreshToken string // empty when the provider never issued one
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type IdentityProvider string

const (
	IdentityProviderSlack IdentityProvider = "slack"
)

// Validate validates the identity for persistence.
func (i *Identity) Validate() error {
	if i.Provider == "" {
		return errors.New("provider is required")
	}
	if i.ProviderID == "" {
		return errors.New("provider id is required")
	}
	return nil
}

// ApplyCredentials copies the access token unconditionally and the refresh token only when one is supplied,
// so a stored refresh token is never overwritten by absence.
func (i *Identity) ApplyCredentials(accessToken, refreshToken string) {
	i.AccessToken = accessToken
	if refreshToken != "" {
		i.RefreshToken = refreshToken
	}
}

// LinkResult is the outcome of resolving an identity link: the link, the user it belongs to,
// and whether this call created both.
type LinkResult struct {
	Identity *Identity
	User     *userdomain.User
	Created  bool
}
