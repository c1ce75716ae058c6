package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildboard/backend/internal/db"
	"buildboard/backend/internal/identity/domain"
	userdomain "buildboard/backend/internal/user/domain"
)

var (
	// ErrLinkConflict is returned when the link could be neither created nor found after losing an insert race.
	ErrLinkConflict = errors.New("identity link conflict")
	// ErrUserIDTaken is returned when the profile carries an explicit user id that already belongs to another user.
	ErrUserIDTaken = errors.New("user id already taken")
)

const (
	identityColumns = `id, user_id, provider, provider_id, access_token, refresh_token, created_at, updated_at`

	getIdentitySQL = `SELECT ` + identityColumns + ` FROM identities WHERE provider = $1 AND provider_id = $2`

	lockIdentitySQL = getIdentitySQL + ` FOR UPDATE`

	updateTokensSQL = `UPDATE identities
SET access_token = $2, refresh_token = COALESCE($3, refresh_token), updated_at = $4
WHERE id = $1
RETURNING refresh_token, updated_at`

	insertIdentitySQL = `INSERT INTO identities (id, user_id, provider, provider_id, access_token, refresh_token, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (provider, provider_id) DO NOTHING
RETURNING id`

	txGetUserSQL = `SELECT id, email, display_name, created_at, updated_at FROM users WHERE id = $1`

	txCreateUserSQL = `INSERT INTO users (id, email, display_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`
)

type PostgresRepository struct {
	db     *sql.DB
	sealer TokenSealer
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
// When sealer is non-nil, access and refresh tokens are encrypted before they are written.
func NewPostgresRepository(db *sql.DB, sealer TokenSealer) *PostgresRepository {
	return &PostgresRepository{db: db, sealer: sealer}
}

// GetByProviderID returns the identity for provider and providerID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByProviderID(ctx context.Context, provider domain.IdentityProvider, providerID string) (*domain.Identity, error) {
	i, err := r.scanIdentity(r.db.QueryRowContext(ctx, getIdentitySQL, string(provider), providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return i, nil
}

// FindOrCreate runs in one transaction. An existing link is locked and its tokens updated.
// A new link is inserted with ON CONFLICT DO NOTHING; if a concurrent request inserted the same
// (provider, provider_id) first, the speculative user is rolled back and the update path runs once more.
// Only the request whose insert succeeded sees Created == true.
func (r *PostgresRepository) FindOrCreate(ctx context.Context, link *domain.Identity, profile *userdomain.User) (*domain.LinkResult, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		res, err := r.findOrCreateTx(ctx, link, profile)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, ErrLinkConflict
}

// findOrCreateTx returns (nil, nil) when the insert lost a race and the caller should retry.
func (r *PostgresRepository) findOrCreateTx(ctx context.Context, link *domain.Identity, profile *userdomain.User) (res *domain.LinkResult, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil || res == nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	existing, err := r.scanIdentity(tx.QueryRowContext(ctx, lockIdentitySQL, string(link.Provider), link.ProviderID))
	switch {
	case err == nil:
		return r.refreshExisting(ctx, tx, existing, link, now)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lock identity: %w", err)
	}

	user := *profile
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt, user.UpdatedAt = now, now
	if err = user.Validate(); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, txCreateUserSQL, user.ID, user.Email, user.DisplayName, now); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserIDTaken, user.ID)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	created := *link
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	created.UserID = user.ID
	created.CreatedAt, created.UpdatedAt = now, now
	access, refresh, err := r.sealCredentials(created.AccessToken, created.RefreshToken)
	if err != nil {
		return nil, err
	}
	var insertedID string
	err = tx.QueryRowContext(ctx, insertIdentitySQL,
		created.ID, created.UserID, string(created.Provider), created.ProviderID, access, refresh, now,
	).Scan(&insertedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &domain.LinkResult{Identity: &created, User: &user, Created: true}, nil
}

func (r *PostgresRepository) refreshExisting(ctx context.Context, tx *sql.Tx, existing, link *domain.Identity, now time.Time) (*domain.LinkResult, error) {
	access, refresh, err := r.sealCredentials(link.AccessToken, link.RefreshToken)
	if err != nil {
		return nil, err
	}
	var storedRefresh sql.NullString
	if err := tx.QueryRowContext(ctx, updateTokensSQL, existing.ID, access, refresh, now).Scan(&storedRefresh, &existing.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update tokens: %w", err)
	}
	var u userdomain.User
	if err := tx.QueryRowContext(ctx, txGetUserSQL, existing.UserID).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("load linked user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	existing.ApplyCredentials(link.AccessToken, link.RefreshToken)
	return &domain.LinkResult{Identity: existing, User: &u}, nil
}

// sealCredentials returns the stored forms of the tokens. An empty refresh token maps to NULL.
func (r *PostgresRepository) sealCredentials(access, refresh string) (string, sql.NullString, error) {
	if r.sealer != nil {
		var err error
		if access, err = r.sealer.Seal(access); err != nil {
			return "", sql.NullString{}, fmt.Errorf("seal access token: %w", err)
		}
		if refresh, err = r.sealer.Seal(refresh); err != nil {
			return "", sql.NullString{}, fmt.Errorf("seal refresh token: %w", err)
		}
	}
	return access, sql.NullString{String: refresh, Valid: refresh != ""}, nil
}

func (r *PostgresRepository) scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		i        domain.Identity
		provider string
		refresh  sql.NullString
	)
	if err := row.Scan(&i.ID, &i.UserID, &provider, &i.ProviderID, &i.AccessToken, &refresh, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	i.Provider = domain.IdentityProvider(provider)
	i.RefreshToken = refresh.String
	if r.sealer != nil {
		var err error
		if i.AccessToken, err = r.sealer.Open(i.AccessToken); err != nil {
			return nil, fmt.Errorf("open access token: %w", err)
		}
		if i.RefreshToken, err = r.sealer.Open(i.RefreshToken); err != nil {
			return nil, fmt.Errorf("open refresh token: %w", err)
		}
	}
	return &i, nil
}
