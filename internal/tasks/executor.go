package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/trigger"
)

// ErrPanic marks a strategy that panicked.
var ErrPanic = errors.New("strategy panicked")

// Executor runs one schedule end to end and records the outcome.
//
// It is the only writer of execution records and of schedule run bookkeeping.
type Executor struct {
	schedules  *repositories.ScheduleRepository
	executions *repositories.ExecutionRepository
	owners     *repositories.OwnerRepository
	sources    *repositories.SourceRepository
	pairs      *repositories.PairRepository
	locks      *repositories.LockRepository

	tokens   services.Tokens
	provider services.Provider
	resolver *trigger.Resolver
	logger   *log.Logger

	timeout       time.Duration
	lockTTL       time.Duration
	authThreshold int
	now           func() time.Time
}

// NewExecutor creates an [Executor] backed by db.
func NewExecutor(db *sql.DB, tokens services.Tokens, provider services.Provider, cfg shared.SchedulerConfig, logger *log.Logger) *Executor {
	threshold := cfg.AuthFailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	return &Executor{
		schedules:     repositories.NewScheduleRepository(db),
		executions:    repositories.NewExecutionRepository(db),
		owners:        repositories.NewOwnerRepository(db),
		sources:       repositories.NewSourceRepository(db),
		pairs:         repositories.NewPairRepository(db),
		locks:         repositories.NewLockRepository(db),
		tokens:        tokens,
		provider:      provider,
		resolver:      trigger.NewResolver(),
		logger:        logger,
		timeout:       cfg.ExecutionTimeout.Duration,
		lockTTL:       cfg.ExecutionTimeout.Duration + cfg.SweepGrace.Duration,
		authThreshold: threshold,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the executor's time source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Timeout is the per-execution deadline.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type outcome struct {
	result models.ResultSummary
	err    error
}

// Execute runs the schedule once.
//
// If the schedule already has a running execution it is returned unchanged and nothing
// else happens. The returned error is reserved for storage failures; job failures are
// reported through the execution's status and error kind.
func (e *Executor) Execute(ctx context.Context, scheduleID string, trig models.ExecutionTrigger, progress chan<- ProgressUpdate) (*models.JobExecution, error) {
	start := e.now()

	s, err := e.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	logger := shared.WithLogger(e.logger, "schedule_id", s.ID, "owner_id", s.OwnerID, "job_type", s.JobType)

	if !s.Enabled {
		logger.Info("schedule disabled, skipping")
		return e.skip(ctx, s, trig, start, models.ErrorKindScheduleDisabled, "schedule is disabled", false)
	}

	resolvable, err := e.owners.Resolvable(ctx, s.OwnerID)
	if err != nil {
		return nil, err
	}
	if !resolvable {
		logger.Warn("owner cannot be resolved, skipping")
		return e.skip(ctx, s, trig, start, models.ErrorKindOwnerUnresolvable, "owner "+s.OwnerID+" no longer exists", true)
	}

	exec, created, err := e.executions.Begin(ctx, &models.JobExecution{
		ScheduleID: s.ID,
		OwnerID:    s.OwnerID,
		Trigger:    trig,
		StartedAt:  start,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		logger.Info("execution already running", "execution_id", exec.ID)
		return exec, nil
	}

	logger = shared.WithLogger(logger, "execution_id", exec.ID)
	report := reporter{executionID: exec.ID, ch: progress}
	report.send(beginUpdate(s))

	job := &Job{Schedule: s, Snapshots: e.sources, Now: start, Logger: logger, progress: report}
	if err := e.load(ctx, job); err != nil {
		logger.Error("failed to load job targets", "error", err)
		return e.finish(ctx, s, exec, models.ResultSummary{}, err, logger, report)
	}

	targets := jobTargets(job)
	acquired, err := e.locks.Acquire(ctx, targets, exec.ID, start, e.lockTTL)
	if err != nil {
		return e.finish(ctx, s, exec, models.ResultSummary{}, err, logger, report)
	}
	if !acquired {
		logger.Info("target playlists busy, skipping", "targets", targets)
		exec.Status = models.StatusSkipped
		exec.ErrorKind = models.ErrorKindTargetBusy
		exec.ErrorMessage = "another execution holds a lock on " + strings.Join(targets, ", ")
		return e.conclude(ctx, s, exec, false, logger, report)
	}

	release := func() {
		if err := e.locks.Release(context.WithoutCancel(ctx), targets, exec.ID); err != nil {
			logger.Error("failed to release target locks", "error", err)
		}
	}

	report.send(authorizeUpdate())
	token, err := e.tokens.Get(ctx, s.OwnerID)
	if err != nil {
		release()
		logger.Warn("failed to obtain access token", "error", err)
		return e.finish(ctx, s, exec, models.ResultSummary{}, err, logger, report)
	}
	job.API = e.provider.Session(token)

	strategy, err := Lookup(s.JobType)
	if err != nil {
		release()
		return e.finish(ctx, s, exec, models.ResultSummary{}, err, logger, report)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("strategy panicked", "panic", r, "stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()

		result, err := strategy.Run(runCtx, job)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		select {
		case out = <-done:
		default:
			// The strategy keeps its target locks until it returns.
			out = outcome{err: fmt.Errorf("%w: %v", shared.ErrTimeout, runCtx.Err())}
		}
	}

	if out.err != nil && errors.Is(out.err, shared.ErrTokenExpired) && !shared.IsAuthExpired(out.err) {
		e.tokens.Invalidate(s.OwnerID)
	}

	return e.finish(ctx, s, exec, out.result, out.err, logger, report)
}

// load resolves the sources or pair a job refers to.
func (e *Executor) load(ctx context.Context, job *Job) error {
	s := job.Schedule
	switch s.JobType {
	case models.JobRaid, models.JobRaidAndShuffle:
		sources, err := e.sources.GetMany(ctx, s.TargetRefs.SourceIDs)
		if err != nil {
			return err
		}
		owned := sources[:0]
		for _, src := range sources {
			if src.OwnerID == s.OwnerID {
				owned = append(owned, src)
			}
		}
		if len(owned) == 0 {
			job.Logger.Warn("none of the schedule's sources exist; raid has nothing to do", "sources", len(s.TargetRefs.SourceIDs))
		}
		job.Sources = owned
	case models.JobRotate:
		pair, err := e.pairs.Get(ctx, s.TargetRefs.PairID)
		if err != nil {
			return err
		}
		if pair.OwnerID != s.OwnerID {
			return fmt.Errorf("%w: playlist pair %s", shared.ErrNotFound, pair.ID)
		}
		job.Pair = pair
	}
	return nil
}

// jobTargets lists the playlists a job writes to.
func jobTargets(job *Job) []string {
	if job.Pair != nil {
		return job.Pair.Targets()
	}
	return []string{job.Schedule.TargetRefs.PlaylistID}
}

// finish classifies a strategy outcome and persists it.
func (e *Executor) finish(ctx context.Context, s *models.Schedule, exec *models.JobExecution, result models.ResultSummary, err error, logger *log.Logger, report reporter) (*models.JobExecution, error) {
	exec.Result = result
	exec.Status, exec.ErrorKind, exec.ErrorMessage = Classify(result, err)

	if exec.Status == models.StatusFailed {
		logger.Error("execution failed", "kind", exec.ErrorKind, "error", exec.ErrorMessage)
	} else {
		logger.Info("execution finished", "status", exec.Status, "kind", exec.ErrorKind, "tracks_moved", result.TracksMoved)
	}

	return e.conclude(ctx, s, exec, true, logger, report)
}

// conclude finalizes exec and advances the schedule. Counted runs update run bookkeeping;
// skips only move next_run_at.
func (e *Executor) conclude(ctx context.Context, s *models.Schedule, exec *models.JobExecution, counted bool, logger *log.Logger, report reporter) (*models.JobExecution, error) {
	ctx = context.WithoutCancel(ctx)
	finished := e.now()
	if finished.Before(exec.StartedAt) {
		finished = exec.StartedAt
	}
	exec.FinishedAt = &finished

	if err := e.executions.Finalize(ctx, exec); err != nil {
		if !errors.Is(err, shared.ErrImmutable) {
			return exec, err
		}
		// The sweeper got there first; its record stands.
		logger.Warn("execution was already finalized", "error", err)
		if stored, gerr := e.executions.Get(ctx, exec.ID); gerr == nil {
			exec = stored
		}
	}

	timing := *s
	if counted {
		timing.LastRunAt = &exec.StartedAt
	}
	next, err := e.resolver.NextRunAfter(&timing, finished)
	if err != nil {
		return exec, err
	}

	if !counted {
		if err := e.schedules.AdvanceNext(ctx, s.ID, next); err != nil {
			return exec, err
		}
		report.send(finishUpdate(exec))
		return exec, nil
	}

	authFailures, err := e.schedules.RecordRun(ctx, s.ID, exec.StartedAt, next, repositories.RunOutcome{
		Succeeded:   exec.Status == models.StatusSuccess,
		AuthExpired: exec.ErrorKind == models.ErrorKindAuthExpired,
	})
	if err != nil {
		return exec, err
	}

	if exec.ErrorKind == models.ErrorKindAuthExpired && authFailures >= e.authThreshold {
		logger.Warn("pausing schedule after repeated authorization failures", "auth_failures", authFailures)
		if err := e.schedules.Pause(ctx, s.ID, models.PausedAuthExpired); err != nil {
			return exec, err
		}
	}

	report.send(finishUpdate(exec))
	return exec, nil
}

// skip records a terminal skipped execution without running anything.
func (e *Executor) skip(ctx context.Context, s *models.Schedule, trig models.ExecutionTrigger, start time.Time, kind models.ErrorKind, msg string, advance bool) (*models.JobExecution, error) {
	exec := &models.JobExecution{
		ScheduleID:   s.ID,
		OwnerID:      s.OwnerID,
		Trigger:      trig,
		Status:       models.StatusSkipped,
		StartedAt:    start,
		FinishedAt:   &start,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
	if err := e.executions.Record(ctx, exec); err != nil {
		return nil, err
	}

	if advance {
		next, err := e.resolver.NextRunAfter(s, start)
		if err != nil {
			return exec, err
		}
		if err := e.schedules.AdvanceNext(ctx, s.ID, next); err != nil {
			return exec, err
		}
	}
	return exec, nil
}

// Classify maps a strategy outcome to a terminal status and error kind.
func Classify(result models.ResultSummary, err error) (models.ExecutionStatus, models.ErrorKind, string) {
	if err == nil {
		if result.HasErrors() {
			return models.StatusSuccess, models.ErrorKindPartialFailure, strings.Join(result.ErrorSummary(), "; ")
		}
		return models.StatusSuccess, models.ErrorKindNone, ""
	}

	msg := err.Error()
	switch {
	case shared.IsAuthExpired(err):
		return models.StatusFailed, models.ErrorKindAuthExpired, msg
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.StatusFailed, models.ErrorKindTimeout, msg
	case shared.IsTransient(err), errors.Is(err, shared.ErrTokenExpired):
		return models.StatusFailed, models.ErrorKindTransient, msg
	default:
		return models.StatusFailed, models.ErrorKindFatal, msg
	}
}
