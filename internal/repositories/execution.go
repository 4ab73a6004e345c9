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

const executionColumns = `
	id, schedule_id, owner_id, run_trigger, status, started_at, finished_at,
	error_kind, error_message, result_summary, created_at, updated_at
`

// ExecutionRepository is the execution ledger.
//
// A partial unique index allows at most one running record per schedule, and terminal
// records are never rewritten.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new [ExecutionRepository] with the given database connection
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Begin inserts exec as running.
//
// When the schedule already has a running execution nothing is written and that
// execution is returned with created=false.
func (r *ExecutionRepository) Begin(ctx context.Context, exec *models.JobExecution) (*models.JobExecution, bool, error) {
	exec.Status = models.StatusRunning
	exec.FinishedAt = nil

	err := r.insert(ctx, exec)
	if isUniqueViolation(err) {
		running, rerr := r.Running(ctx, exec.ScheduleID)
		if rerr != nil {
			return nil, false, fmt.Errorf("schedule %s is running but its execution could not be read: %w", exec.ScheduleID, rerr)
		}
		return running, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return exec, true, nil
}

// Record inserts an execution that is already terminal, such as a skip.
func (r *ExecutionRepository) Record(ctx context.Context, exec *models.JobExecution) error {
	if !exec.Status.Terminal() {
		return fmt.Errorf("%w: cannot record %s execution", shared.ErrInvalidInput, exec.Status)
	}
	if exec.FinishedAt == nil {
		now := time.Now().UTC()
		exec.FinishedAt = &now
	}
	return r.insert(ctx, exec)
}

func (r *ExecutionRepository) insert(ctx context.Context, exec *models.JobExecution) error {
	summary, err := encodeJSON(exec.Result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	exec.ID = shared.GenerateID()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	if exec.StartedAt.IsZero() {
		exec.StartedAt = now
	}
	if exec.Trigger == "" {
		exec.Trigger = models.TriggerScheduled
	}

	query := `
		INSERT INTO job_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.ScheduleID,
		exec.OwnerID,
		exec.Trigger,
		exec.Status,
		exec.StartedAt.UTC(),
		nullTime(exec.FinishedAt),
		exec.ErrorKind,
		exec.ErrorMessage,
		summary,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// Finalize moves a running execution to its terminal state.
//
// Returns [shared.ErrImmutable] if the execution already left running, for example
// because the stuck-run sweeper timed it out first.
func (r *ExecutionRepository) Finalize(ctx context.Context, exec *models.JobExecution) error {
	if !exec.Status.Terminal() {
		return fmt.Errorf("%w: cannot finalize as %s", shared.ErrInvalidInput, exec.Status)
	}

	summary, err := encodeJSON(exec.Result)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if exec.FinishedAt == nil {
		exec.FinishedAt = &now
	}
	exec.UpdatedAt = now

	query := `
		UPDATE job_executions
		SET status = ?, finished_at = ?, error_kind = ?, error_message = ?, result_summary = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		exec.Status, exec.FinishedAt.UTC(), exec.ErrorKind, exec.ErrorMessage, summary, now, exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: execution %s is not running", shared.ErrImmutable, exec.ID)
	}

	return nil
}

// Get retrieves an execution by ID.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), "execution "+id)
}

// Running returns the schedule's running execution, or [shared.ErrNotFound].
func (r *ExecutionRepository) Running(ctx context.Context, scheduleID string) (*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE schedule_id = ? AND status = 'running'`
	return r.scanOne(r.db.QueryRowContext(ctx, query, scheduleID), "running execution for schedule "+scheduleID)
}

// ListBySchedule returns a schedule's executions, newest first. A limit of zero or less returns all.
func (r *ExecutionRepository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE schedule_id = ? ORDER BY started_at DESC, created_at DESC`
	args := []any{scheduleID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// ListStuck returns running executions started before cutoff.
func (r *ExecutionRepository) ListStuck(ctx context.Context, cutoff time.Time) ([]*models.JobExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE status = 'running' AND started_at < ? ORDER BY started_at ASC`
	return r.query(ctx, query, cutoff.UTC())
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.JobExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.JobExecution
	for rows.Next() {
		exec, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return executions, nil
}

// scanOne scans a single row into a [models.JobExecution]
func (r *ExecutionRepository) scanOne(row *sql.Row, what string) (*models.JobExecution, error) {
	exec, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, what)
	}
	return exec, err
}

// scanRow scans a row from [sql.Rows] into a [models.JobExecution]
func (r *ExecutionRepository) scanRow(rows *sql.Rows) (*models.JobExecution, error) {
	return r.scan(rows)
}

func (r *ExecutionRepository) scan(sc scanner) (*models.JobExecution, error) {
	var (
		exec       models.JobExecution
		finishedAt sql.NullTime
		summary    string
	)

	err := sc.Scan(
		&exec.ID, &exec.ScheduleID, &exec.OwnerID, &exec.Trigger, &exec.Status, &exec.StartedAt, &finishedAt,
		&exec.ErrorKind, &exec.ErrorMessage, &summary, &exec.CreatedAt, &exec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := decodeJSON(summary, &exec.Result); err != nil {
		return nil, err
	}

	exec.StartedAt = exec.StartedAt.UTC()
	exec.CreatedAt = exec.CreatedAt.UTC()
	exec.UpdatedAt = exec.UpdatedAt.UTC()
	exec.FinishedAt = timePtr(finishedAt)

	return &exec, nil
}
