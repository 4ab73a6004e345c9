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

// PairRepository implements [models.Repository] for [models.PlaylistPair] persistence.
type PairRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.PlaylistPair] = (*PairRepository)(nil)

// NewPairRepository creates a new [PairRepository] with the given database connection
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

// Create inserts a new playlist pair with a generated ID
func (r *PairRepository) Create(ctx context.Context, pair *models.PlaylistPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	policy, err := encodeJSON(pair.Policy)
	if err != nil {
		return err
	}

	pair.ID = shared.GenerateID()

	query := `
		INSERT INTO playlist_pairs (id, owner_id, production_playlist_ref, archive_playlist_ref, rotation_policy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		pair.ID, pair.OwnerID, pair.ProductionPlaylistRef, pair.ArchivePlaylistRef, policy,
		pair.CreatedAt.UTC(), pair.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert playlist pair: %w", err)
	}

	return nil
}

// Get retrieves a playlist pair by ID, excluding soft-deleted pairs
func (r *PairRepository) Get(ctx context.Context, id string) (*models.PlaylistPair, error) {
	query := `
		SELECT id, owner_id, production_playlist_ref, archive_playlist_ref, rotation_policy, created_at, updated_at, deleted_at
		FROM playlist_pairs
		WHERE id = ? AND deleted_at IS NULL
	`

	pair, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist pair %s", shared.ErrNotFound, id)
	}
	return pair, err
}

// Update modifies an existing playlist pair
func (r *PairRepository) Update(ctx context.Context, pair *models.PlaylistPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	policy, err := encodeJSON(pair.Policy)
	if err != nil {
		return err
	}

	pair.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE playlist_pairs
		SET production_playlist_ref = ?, archive_playlist_ref = ?, rotation_policy = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, pair.ProductionPlaylistRef, pair.ArchivePlaylistRef, policy, pair.UpdatedAt, pair.ID)
	if err != nil {
		return fmt.Errorf("failed to update playlist pair: %w", err)
	}

	return checkAffected(result, "playlist pair", pair.ID)
}

// Delete soft-deletes a playlist pair by ID
func (r *PairRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE playlist_pairs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist pair: %w", err)
	}

	return checkAffected(result, "playlist pair", id)
}

// List retrieves playlist pairs, optionally filtered by "owner_id"
func (r *PairRepository) List(ctx context.Context, criteria map[string]any) ([]*models.PlaylistPair, error) {
	query := `
		SELECT id, owner_id, production_playlist_ref, archive_playlist_ref, rotation_policy, created_at, updated_at, deleted_at
		FROM playlist_pairs
		WHERE deleted_at IS NULL
	`
	args := []any{}

	if ownerID, ok := criteria["owner_id"].(string); ok && ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*models.PlaylistPair
	for rows.Next() {
		pair, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return pairs, nil
}

func (r *PairRepository) scan(sc scanner) (*models.PlaylistPair, error) {
	var (
		pair      models.PlaylistPair
		policy    string
		deletedAt sql.NullTime
	)

	err := sc.Scan(&pair.ID, &pair.OwnerID, &pair.ProductionPlaylistRef, &pair.ArchivePlaylistRef, &policy, &pair.CreatedAt, &pair.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan playlist pair: %w", err)
	}

	if err := decodeJSON(policy, &pair.Policy); err != nil {
		return nil, err
	}
	pair.DeletedAt = timePtr(deletedAt)

	return &pair, nil
}
