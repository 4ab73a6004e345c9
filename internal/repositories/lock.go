package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

// LockRepository provides TTL-bounded mutual exclusion per playlist reference.
//
// Locks let a rotation and a shuffle on the same playlist exclude each other even
// though they belong to different schedules.
type LockRepository struct {
	db *sql.DB
}

// NewLockRepository creates a new [LockRepository] with the given database connection
func NewLockRepository(db *sql.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire takes every ref for holder or none of them.
//
// A ref held by another holder with an unexpired lock makes Acquire return false.
// Re-acquiring a ref the holder already owns extends it.
func (r *LockRepository) Acquire(ctx context.Context, refs []string, holder string, now time.Time, ttl time.Duration) (bool, error) {
	refs = normalizeRefs(refs)
	if len(refs) == 0 {
		return true, nil
	}

	now = now.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO target_locks (target_ref, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(target_ref) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE target_locks.expires_at < excluded.acquired_at OR target_locks.holder = excluded.holder
	`

	for _, ref := range refs {
		result, err := tx.ExecContext(ctx, query, ref, holder, now, now.Add(ttl))
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock on %s: %w", ref, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit lock transaction: %w", err)
	}

	return true, nil
}

// Release drops holder's locks on refs. Locks held by others are untouched.
func (r *LockRepository) Release(ctx context.Context, refs []string, holder string) error {
	for _, ref := range normalizeRefs(refs) {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM target_locks WHERE target_ref = ? AND holder = ?`, ref, holder); err != nil {
			return fmt.Errorf("failed to release lock on %s: %w", ref, err)
		}
	}
	return nil
}

// Holder returns the current unexpired holder of ref, or an empty string.
func (r *LockRepository) Holder(ctx context.Context, ref string, now time.Time) (string, error) {
	var holder string
	err := r.db.QueryRowContext(ctx, `SELECT holder FROM target_locks WHERE target_ref = ? AND expires_at >= ?`, ref, now.UTC()).Scan(&holder)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query lock: %w", err)
	}
	return holder, nil
}

// normalizeRefs sorts and dedupes refs so concurrent acquirers take them in the same order.
func normalizeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref != "" {
			out = append(out, ref)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
