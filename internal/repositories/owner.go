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

// OwnerRepository implements [models.Repository] for [models.Owner] persistence.
type OwnerRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.Owner] = (*OwnerRepository)(nil)

// NewOwnerRepository creates a new [OwnerRepository] with the given database connection
func NewOwnerRepository(db *sql.DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

// Create inserts a new owner into the database with a generated ID
func (r *OwnerRepository) Create(ctx context.Context, owner *models.Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	owner.ID = shared.GenerateID()

	query := `
		INSERT INTO owners (id, email, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, owner.ID, owner.Email, owner.DisplayName, owner.CreatedAt.UTC(), owner.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: owner with email %s", shared.ErrAlreadyExists, owner.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to insert owner: %w", err)
	}

	return nil
}

// Get retrieves an owner by ID, excluding soft-deleted owners
func (r *OwnerRepository) Get(ctx context.Context, id string) (*models.Owner, error) {
	query := `
		SELECT id, email, display_name, created_at, updated_at, deleted_at
		FROM owners
		WHERE id = ? AND deleted_at IS NULL
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// Resolvable reports whether the owner exists and has not been deleted.
func (r *OwnerRepository) Resolvable(ctx context.Context, id string) (bool, error) {
	_, err := r.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Update modifies an existing owner in the database
func (r *OwnerRepository) Update(ctx context.Context, owner *models.Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}

	owner.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE owners
		SET email = ?, display_name = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, owner.Email, owner.DisplayName, owner.UpdatedAt, owner.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: owner with email %s", shared.ErrAlreadyExists, owner.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to update owner: %w", err)
	}

	return checkAffected(result, "owner", owner.ID)
}

// Delete soft-deletes an owner by ID
func (r *OwnerRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE owners
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete owner: %w", err)
	}

	return checkAffected(result, "owner", id)
}

// List retrieves all owners matching the given criteria, excluding soft-deleted owners
func (r *OwnerRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Owner, error) {
	query := `
		SELECT id, email, display_name, created_at, updated_at, deleted_at
		FROM owners
		WHERE deleted_at IS NULL
	`

	args := []any{}

	if email, ok := criteria["email"].(string); ok && email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}

	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	var owners []*models.Owner
	for rows.Next() {
		owner, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return owners, nil
}

// scanOne scans a single row into a [models.Owner]
func (r *OwnerRepository) scanOne(row *sql.Row, id string) (*models.Owner, error) {
	owner, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: owner %s", shared.ErrNotFound, id)
	}
	return owner, err
}

// scanRow scans a row from [sql.Rows] into a [models.Owner]
func (r *OwnerRepository) scanRow(rows *sql.Rows) (*models.Owner, error) {
	return r.scan(rows)
}

func (r *OwnerRepository) scan(s scanner) (*models.Owner, error) {
	var (
		owner     models.Owner
		deletedAt sql.NullTime
	)

	err := s.Scan(&owner.ID, &owner.Email, &owner.DisplayName, &owner.CreatedAt, &owner.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan owner: %w", err)
	}

	owner.DeletedAt = timePtr(deletedAt)
	return &owner, nil
}
