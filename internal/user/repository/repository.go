package repository

import (
	"context"

	"buildboard/backend/internal/user/domain"
)

// Repository reads users. Users are created together with their first identity link by the identity repository.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}
