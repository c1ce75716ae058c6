package repository

import (
	"context"

	"buildboard/backend/internal/identity/domain"
	userdomain "buildboard/backend/internal/user/domain"
)

// Repository defines persistence for identity links.
type Repository interface {
	GetByProviderID(ctx context.Context, provider domain.IdentityProvider, providerID string) (*domain.Identity, error)
	// FindOrCreate resolves the link for (link.Provider, link.ProviderID). An existing link gets its
	// credentials refreshed and keeps its user; otherwise profile is created and the link attached to it.
	FindOrCreate(ctx context.Context, link *domain.Identity, profile *userdomain.User) (*domain.LinkResult, error)
}

// TokenSealer encrypts credentials before they are stored. security.TokenCipher satisfies it.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
