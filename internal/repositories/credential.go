package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
)

// CredentialRepository stores sealed refresh credentials, one per owner.
//
// It never sees plaintext; callers seal with [shared.Sealer] before saving.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save inserts or replaces the owner's credential and clears any revocation.
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	if cred.OwnerID == "" || len(cred.RefreshToken) == 0 {
		return fmt.Errorf("%w: credential requires owner and refresh token", shared.ErrMissingCredentials)
	}

	cred.UpdatedAt = time.Now().UTC()
	cred.RevokedAt = nil

	query := `
		INSERT INTO credentials (owner_id, refresh_token, scopes, updated_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(owner_id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at,
			revoked_at = NULL
	`

	if _, err := r.db.ExecContext(ctx, query, cred.OwnerID, cred.RefreshToken, cred.Scopes, cred.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// Get retrieves the owner's credential, revoked or not.
func (r *CredentialRepository) Get(ctx context.Context, ownerID string) (*models.Credential, error) {
	query := `
		SELECT owner_id, refresh_token, scopes, updated_at, revoked_at
		FROM credentials
		WHERE owner_id = ?
	`

	var (
		cred      models.Credential
		revokedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&cred.OwnerID, &cred.RefreshToken, &cred.Scopes, &cred.UpdatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: credential for owner %s", shared.ErrNotFound, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	cred.RevokedAt = timePtr(revokedAt)
	return &cred, nil
}

// MarkRevoked records that the provider rejected the owner's refresh credential.
func (r *CredentialRepository) MarkRevoked(ctx context.Context, ownerID string, at time.Time) error {
	query := `
		UPDATE credentials
		SET revoked_at = ?, updated_at = ?
		WHERE owner_id = ? AND revoked_at IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, at.UTC(), at.UTC(), ownerID); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	return nil
}
