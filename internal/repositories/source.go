package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
)

const sourceColumns = `id, owner_id, source_type, source_ref, last_snapshot, last_synced_at, created_at, updated_at, deleted_at`

// SourceRepository implements [models.Repository] for [models.UpstreamSource] persistence.
//
// last_snapshot is only written through [SourceRepository.AdvanceSnapshot].
type SourceRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.UpstreamSource] = (*SourceRepository)(nil)

// NewSourceRepository creates a new [SourceRepository] with the given database connection
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new upstream source with a generated ID
func (r *SourceRepository) Create(ctx context.Context, src *models.UpstreamSource) error {
	if err := src.Validate(); err != nil {
		return err
	}

	if src.LastSnapshot == nil {
		src.LastSnapshot = []string{}
	}
	snapshot, err := encodeJSON(src.LastSnapshot)
	if err != nil {
		return err
	}

	src.ID = shared.GenerateID()

	query := `INSERT INTO upstream_sources (` + sourceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`

	_, err = r.db.ExecContext(ctx, query,
		src.ID, src.OwnerID, src.SourceType, src.SourceRef, snapshot,
		nullTime(src.LastSyncedAt), src.CreatedAt.UTC(), src.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upstream source: %w", err)
	}

	return nil
}

// Get retrieves an upstream source by ID, excluding soft-deleted sources
func (r *SourceRepository) Get(ctx context.Context, id string) (*models.UpstreamSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM upstream_sources WHERE id = ? AND deleted_at IS NULL`

	src, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: upstream source %s", shared.ErrNotFound, id)
	}
	return src, err
}

// GetMany retrieves the live sources among ids, in raid discovery order:
// never-synced first, then oldest last_synced_at, then creation order.
func (r *SourceRepository) GetMany(ctx context.Context, ids []string) ([]*models.UpstreamSource, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := `SELECT ` + sourceColumns + ` FROM upstream_sources
		WHERE deleted_at IS NULL AND id IN (` + placeholders + `)
		ORDER BY last_synced_at IS NOT NULL, last_synced_at ASC, created_at ASC`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return r.query(ctx, query, args...)
}

// Update modifies the source reference of an upstream source. The snapshot is left untouched.
func (r *SourceRepository) Update(ctx context.Context, src *models.UpstreamSource) error {
	if err := src.Validate(); err != nil {
		return err
	}

	src.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE upstream_sources
		SET source_type = ?, source_ref = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, src.SourceType, src.SourceRef, src.UpdatedAt, src.ID)
	if err != nil {
		return fmt.Errorf("failed to update upstream source: %w", err)
	}

	return checkAffected(result, "upstream source", src.ID)
}

// AdvanceSnapshot replaces a source's snapshot after a confirmed write to the destination.
func (r *SourceRepository) AdvanceSnapshot(ctx context.Context, id string, snapshot []string, syncedAt time.Time) error {
	if snapshot == nil {
		snapshot = []string{}
	}
	encoded, err := encodeJSON(snapshot)
	if err != nil {
		return err
	}

	query := `
		UPDATE upstream_sources
		SET last_snapshot = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, encoded, syncedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance snapshot: %w", err)
	}

	return checkAffected(result, "upstream source", id)
}

// Delete soft-deletes an upstream source by ID
func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE upstream_sources SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete upstream source: %w", err)
	}

	return checkAffected(result, "upstream source", id)
}

// List retrieves upstream sources, optionally filtered by "owner_id"
func (r *SourceRepository) List(ctx context.Context, criteria map[string]any) ([]*models.UpstreamSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM upstream_sources WHERE deleted_at IS NULL`
	args := []any{}

	if ownerID, ok := criteria["owner_id"].(string); ok && ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	query += " ORDER BY created_at ASC"

	return r.query(ctx, query, args...)
}

func (r *SourceRepository) query(ctx context.Context, query string, args ...any) ([]*models.UpstreamSource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upstream sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.UpstreamSource
	for rows.Next() {
		src, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sources, nil
}

func (r *SourceRepository) scan(sc scanner) (*models.UpstreamSource, error) {
	var (
		src          models.UpstreamSource
		snapshot     string
		lastSyncedAt sql.NullTime
		deletedAt    sql.NullTime
	)

	err := sc.Scan(&src.ID, &src.OwnerID, &src.SourceType, &src.SourceRef, &snapshot, &lastSyncedAt, &src.CreatedAt, &src.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan upstream source: %w", err)
	}

	src.LastSnapshot = []string{}
	if err := decodeJSON(snapshot, &src.LastSnapshot); err != nil {
		return nil, err
	}
	src.CreatedAt = src.CreatedAt.UTC()
	src.LastSyncedAt = timePtr(lastSyncedAt)
	src.DeletedAt = timePtr(deletedAt)

	return &src, nil
}
