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

const scheduleColumns = `
	id, owner_id, job_type, schedule_type, schedule_value, enabled, target_refs, params,
	created_at, updated_at, last_run_at, next_run_at, run_count, consecutive_failure_count,
	consecutive_auth_failure_count, paused_reason, claimed_by, claimed_until, deleted_at
`

// ScheduleRepository implements [models.Repository] for [models.Schedule] persistence,
// plus the due-selection, claim and run bookkeeping used by the tick engine.
type ScheduleRepository struct {
	db *sql.DB
}

var _ models.Repository[*models.Schedule] = (*ScheduleRepository)(nil)

// NewScheduleRepository creates a new [ScheduleRepository] with the given database connection
func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a new schedule into the database with a generated ID
func (r *ScheduleRepository) Create(ctx context.Context, s *models.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	refs, err := encodeJSON(s.TargetRefs)
	if err != nil {
		return err
	}
	params, err := encodeJSON(s.Params)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.ID = shared.GenerateID()

	query := `
		INSERT INTO schedules (
			id, owner_id, job_type, schedule_type, schedule_value, enabled, target_refs, params,
			created_at, updated_at, last_run_at, next_run_at, run_count, consecutive_failure_count, paused_reason
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.OwnerID,
		s.JobType,
		s.ScheduleType,
		s.ScheduleValue,
		s.Enabled,
		refs,
		params,
		s.CreatedAt.UTC(),
		s.UpdatedAt,
		nullTime(s.LastRunAt),
		nullTime(s.NextRunAt),
		s.RunCount,
		s.ConsecutiveFailureCount,
		s.PausedReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}

	return nil
}

// Get retrieves a schedule by ID, excluding soft-deleted schedules
func (r *ScheduleRepository) Get(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// Update writes the user-editable configuration of a schedule.
//
// Run bookkeeping columns are left alone; use [ScheduleRepository.RecordRun] for those.
func (r *ScheduleRepository) Update(ctx context.Context, s *models.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}

	refs, err := encodeJSON(s.TargetRefs)
	if err != nil {
		return err
	}
	params, err := encodeJSON(s.Params)
	if err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE schedules
		SET schedule_type = ?, schedule_value = ?, enabled = ?, target_refs = ?, params = ?,
			next_run_at = ?, paused_reason = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		s.ScheduleType, s.ScheduleValue, s.Enabled, refs, params,
		nullTime(s.NextRunAt), s.PausedReason, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	return checkAffected(result, "schedule", s.ID)
}

// Delete soft-deletes a schedule by ID. Its executions stay in the ledger.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()

	query := `
		UPDATE schedules
		SET deleted_at = ?, enabled = 0, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	return checkAffected(result, "schedule", id)
}

// List retrieves schedules matching the given criteria ("owner_id", "job_type", "enabled")
func (r *ScheduleRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE deleted_at IS NULL`
	args := []any{}

	if ownerID, ok := criteria["owner_id"].(string); ok && ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	if jobType, ok := criteria["job_type"].(models.JobType); ok && jobType != "" {
		query += " AND job_type = ?"
		args = append(args, jobType)
	}

	if enabled, ok := criteria["enabled"].(bool); ok {
		query += " AND enabled = ?"
		args = append(args, enabled)
	}

	query += " ORDER BY created_at ASC"

	return r.query(ctx, query, args...)
}

// ListDue returns enabled, unclaimed schedules whose next_run_at is at or before now.
//
// Schedules that have never had next_run_at computed sort first.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	now = now.UTC()
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE deleted_at IS NULL
			AND enabled = 1
			AND (next_run_at IS NULL OR next_run_at <= ?)
			AND (claimed_until IS NULL OR claimed_until < ?)
		ORDER BY next_run_at ASC, created_at ASC
		LIMIT ?`

	return r.query(ctx, query, now, now, limit)
}

// Claim marks a schedule as taken by holder until now+ttl.
//
// Returns false when another holder has an unexpired claim.
func (r *ScheduleRepository) Claim(ctx context.Context, id, holder string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()

	query := `
		UPDATE schedules
		SET claimed_by = ?, claimed_until = ?
		WHERE id = ? AND deleted_at IS NULL AND (claimed_until IS NULL OR claimed_until < ?)
	`

	result, err := r.db.ExecContext(ctx, query, holder, now.Add(ttl), id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows == 1, nil
}

// Release drops holder's claim on a schedule.
func (r *ScheduleRepository) Release(ctx context.Context, id, holder string) error {
	query := `
		UPDATE schedules
		SET claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND claimed_by = ?
	`

	if _, err := r.db.ExecContext(ctx, query, id, holder); err != nil {
		return fmt.Errorf("failed to release schedule: %w", err)
	}

	return nil
}

// RunOutcome is what [ScheduleRepository.RecordRun] needs to know about a finished run.
type RunOutcome struct {
	Succeeded   bool
	AuthExpired bool
}

// RecordRun stores the outcome of a finished run and returns the updated auth failure streak.
//
// last_run_at is the run's start and run_count is incremented. The failure counter resets on
// success and grows otherwise. The auth streak grows only on AuthExpired and resets on any
// other outcome.
func (r *ScheduleRepository) RecordRun(ctx context.Context, id string, startedAt, next time.Time, outcome RunOutcome) (int, error) {
	query := `
		UPDATE schedules
		SET last_run_at = ?,
			next_run_at = ?,
			run_count = run_count + 1,
			consecutive_failure_count = CASE WHEN ? THEN 0 ELSE consecutive_failure_count + 1 END,
			consecutive_auth_failure_count = CASE WHEN ? THEN consecutive_auth_failure_count + 1 ELSE 0 END,
			updated_at = ?
		WHERE id = ?
		RETURNING consecutive_auth_failure_count
	`

	var streak int
	err := r.db.QueryRowContext(ctx, query,
		startedAt.UTC(), next.UTC(), outcome.Succeeded, outcome.AuthExpired, time.Now().UTC(), id,
	).Scan(&streak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: schedule %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}

	return streak, nil
}

// AdvanceNext moves next_run_at forward without counting a run.
func (r *ScheduleRepository) AdvanceNext(ctx context.Context, id string, next time.Time) error {
	query := `UPDATE schedules SET next_run_at = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, next.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}

	return checkAffected(result, "schedule", id)
}

// Pause disables a schedule and records why.
func (r *ScheduleRepository) Pause(ctx context.Context, id, reason string) error {
	query := `UPDATE schedules SET enabled = 0, paused_reason = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to pause schedule: %w", err)
	}

	return checkAffected(result, "schedule", id)
}

// SetEnabled toggles a schedule. Enabling clears paused_reason and both failure counters
// and sets next_run_at; disabling leaves bookkeeping untouched.
func (r *ScheduleRepository) SetEnabled(ctx context.Context, id string, enabled bool, next *time.Time) error {
	var (
		query string
		args  []any
		now   = time.Now().UTC()
	)

	if enabled {
		query = `
			UPDATE schedules
			SET enabled = 1, paused_reason = '', consecutive_failure_count = 0, consecutive_auth_failure_count = 0,
				next_run_at = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`
		args = []any{nullTime(next), now, id}
	} else {
		query = `UPDATE schedules SET enabled = 0, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
		args = []any{now, id}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to toggle schedule: %w", err)
	}

	return checkAffected(result, "schedule", id)
}

func (r *ScheduleRepository) query(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return schedules, nil
}

// scanOne scans a single row into a [models.Schedule]
func (r *ScheduleRepository) scanOne(row *sql.Row, id string) (*models.Schedule, error) {
	s, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule %s", shared.ErrNotFound, id)
	}
	return s, err
}

// scanRow scans a row from [sql.Rows] into a [models.Schedule]
func (r *ScheduleRepository) scanRow(rows *sql.Rows) (*models.Schedule, error) {
	return r.scan(rows)
}

func (r *ScheduleRepository) scan(sc scanner) (*models.Schedule, error) {
	var (
		s            models.Schedule
		refs, params string
		lastRunAt    sql.NullTime
		nextRunAt    sql.NullTime
		claimedBy    sql.NullString
		claimedUntil sql.NullTime
		deletedAt    sql.NullTime
	)

	err := sc.Scan(
		&s.ID, &s.OwnerID, &s.JobType, &s.ScheduleType, &s.ScheduleValue, &s.Enabled, &refs, &params,
		&s.CreatedAt, &s.UpdatedAt, &lastRunAt, &nextRunAt, &s.RunCount, &s.ConsecutiveFailureCount,
		&s.ConsecutiveAuthFailures, &s.PausedReason, &claimedBy, &claimedUntil, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	if err := decodeJSON(refs, &s.TargetRefs); err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &s.Params); err != nil {
		return nil, err
	}

	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.LastRunAt = timePtr(lastRunAt)
	s.NextRunAt = timePtr(nextRunAt)
	s.ClaimedBy = claimedBy.String
	s.ClaimedUntil = timePtr(claimedUntil)
	s.DeletedAt = timePtr(deletedAt)

	return &s, nil
}
