package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/shuffle"
	"github.com/desertthunder/cadence/internal/tasks"
	"github.com/desertthunder/cadence/internal/trigger"
)

// DefaultAlgorithm is used when a shuffle schedule does not name one.
const DefaultAlgorithm = "random"

// ScheduleSpec is the caller-supplied part of a new schedule.
type ScheduleSpec struct {
	OwnerID       string
	JobType       models.JobType
	ScheduleType  models.ScheduleType
	ScheduleValue string
	TargetRefs    models.TargetRefs
	Params        models.JobParams
	Disabled      bool
}

// Service is the management surface used by the CLI and the dashboard.
//
// It validates configuration and owns create/toggle/delete; run bookkeeping stays
// with the [tasks.Executor], which RunNow calls directly.
type Service struct {
	schedules  *repositories.ScheduleRepository
	executions *repositories.ExecutionRepository
	owners     *repositories.OwnerRepository
	pairs      *repositories.PairRepository
	sources    *repositories.SourceRepository
	resolver   *trigger.Resolver
	executor   *tasks.Executor
	logger     *log.Logger
	now        func() time.Time
}

// NewService creates a [Service] backed by db. executor may be nil for read-only callers;
// RunNow then fails with [shared.ErrNotImplemented].
func NewService(db *sql.DB, executor *tasks.Executor, logger *log.Logger) *Service {
	return &Service{
		schedules:  repositories.NewScheduleRepository(db),
		executions: repositories.NewExecutionRepository(db),
		owners:     repositories.NewOwnerRepository(db),
		pairs:      repositories.NewPairRepository(db),
		sources:    repositories.NewSourceRepository(db),
		resolver:   trigger.NewResolver(),
		executor:   executor,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSchedule validates spec and stores it with its first next_run_at.
//
// Every problem is reported as a [shared.ValidationError] before anything is written.
func (s *Service) CreateSchedule(ctx context.Context, spec ScheduleSpec) (*models.Schedule, error) {
	now := s.now()

	sched := &models.Schedule{
		OwnerID:       spec.OwnerID,
		JobType:       spec.JobType,
		ScheduleType:  spec.ScheduleType,
		ScheduleValue: spec.ScheduleValue,
		Enabled:       !spec.Disabled,
		TargetRefs:    spec.TargetRefs,
		Params:        spec.Params,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if (sched.JobType == models.JobShuffle || sched.JobType == models.JobRaidAndShuffle) && sched.Params.Algorithm == "" {
		sched.Params.Algorithm = DefaultAlgorithm
	}

	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if err := s.resolver.Validate(sched.ScheduleType, sched.ScheduleValue); err != nil {
		return nil, err
	}
	if sched.Params.Algorithm != "" {
		if err := shuffle.Validate(sched.Params.Algorithm, sched.Params.AlgorithmParams); err != nil {
			return nil, err
		}
	}
	if err := s.checkReferences(ctx, sched); err != nil {
		return nil, err
	}

	if sched.Enabled {
		next, err := s.resolver.InitialNextRun(sched, now)
		if err != nil {
			return nil, err
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created", "schedule_id", sched.ID, "owner_id", sched.OwnerID, "job_type", sched.JobType)
	return sched, nil
}

// checkReferences confirms the owner exists and owns every referenced pair and source.
func (s *Service) checkReferences(ctx context.Context, sched *models.Schedule) error {
	ok, err := s.owners.Resolvable(ctx, sched.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NewValidationError("owner_id", "unknown owner %s", sched.OwnerID)
	}

	for _, id := range sched.TargetRefs.SourceIDs {
		src, err := s.sources.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewValidationError("target_refs.source_ids", "unknown source %s", id)
		}
		if err != nil {
			return err
		}
		if src.OwnerID != sched.OwnerID {
			return shared.NewValidationError("target_refs.source_ids", "source %s belongs to another owner", id)
		}
	}

	if id := sched.TargetRefs.PairID; id != "" {
		pair, err := s.pairs.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewValidationError("target_refs.pair_id", "unknown pair %s", id)
		}
		if err != nil {
			return err
		}
		if pair.OwnerID != sched.OwnerID {
			return shared.NewValidationError("target_refs.pair_id", "pair %s belongs to another owner", id)
		}
	}

	return nil
}

// ToggleSchedule enables or disables a schedule.
//
// Enabling clears paused_reason and the failure counter and computes a fresh next_run_at.
func (s *Service) ToggleSchedule(ctx context.Context, id string, enabled bool) (*models.Schedule, error) {
	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var next *time.Time
	if enabled {
		n, err := s.resolver.InitialNextRun(sched, s.now())
		if err != nil {
			return nil, err
		}
		next = &n
	}

	if err := s.schedules.SetEnabled(ctx, id, enabled, next); err != nil {
		return nil, err
	}

	s.logger.Info("schedule toggled", "schedule_id", id, "enabled", enabled)
	return s.schedules.Get(ctx, id)
}

// RunNow executes a schedule immediately through the same path as the tick engine.
//
// A disabled schedule is rejected with a [shared.ValidationError] and no execution is
// created. If the schedule is already running, that execution is returned.
func (s *Service) RunNow(ctx context.Context, id string, progress chan<- tasks.ProgressUpdate) (*models.JobExecution, error) {
	if s.executor == nil {
		return nil, fmt.Errorf("%w: service has no executor", shared.ErrNotImplemented)
	}

	sched, err := s.schedules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		return nil, shared.NewValidationError("enabled", "schedule %s is disabled", id)
	}

	return s.executor.Execute(ctx, id, models.TriggerManual, progress)
}

// ListExecutions returns a schedule's history, newest first.
//
// History outlives the schedule, so a deleted schedule still lists its executions.
func (s *Service) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*models.JobExecution, error) {
	return s.executions.ListBySchedule(ctx, scheduleID, limit)
}

// GetExecution returns one execution record.
func (s *Service) GetExecution(ctx context.Context, id string) (*models.JobExecution, error) {
	return s.executions.Get(ctx, id)
}

func (s *Service) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return s.schedules.Get(ctx, id)
}

// ListSchedules returns schedules, optionally limited to one owner.
func (s *Service) ListSchedules(ctx context.Context, ownerID string) ([]*models.Schedule, error) {
	return s.schedules.List(ctx, map[string]any{"owner_id": ownerID})
}

// DeleteSchedule soft-deletes a schedule. Its executions are kept.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.schedules.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// CreatePair stores a production/archive pair for an existing owner.
func (s *Service) CreatePair(ctx context.Context, ownerID, production, archive string, policy models.RotationPolicy) (*models.PlaylistPair, error) {
	pair := models.NewPlaylistPair(ownerID, production, archive, policy)
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	if err := s.pairs.Create(ctx, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *Service) ListPairs(ctx context.Context, ownerID string) ([]*models.PlaylistPair, error) {
	return s.pairs.List(ctx, map[string]any{"owner_id": ownerID})
}

// DeletePair soft-deletes a pair. Rotate schedules that still reference it fail until repointed.
func (s *Service) DeletePair(ctx context.Context, id string) error {
	return s.pairs.Delete(ctx, id)
}

// CreateSource registers an upstream playlist or artist with an empty snapshot.
func (s *Service) CreateSource(ctx context.Context, ownerID string, sourceType models.SourceType, ref string) (*models.UpstreamSource, error) {
	src := models.NewUpstreamSource(ownerID, sourceType, ref)
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Service) ListSources(ctx context.Context, ownerID string) ([]*models.UpstreamSource, error) {
	return s.sources.List(ctx, map[string]any{"owner_id": ownerID})
}

func (s *Service) DeleteSource(ctx context.Context, id string) error {
	return s.sources.Delete(ctx, id)
}

// CreateOwner stores a new owner. Credentials are attached separately by the auth flow.
func (s *Service) CreateOwner(ctx context.Context, email, displayName string) (*models.Owner, error) {
	owner := models.NewOwner(email, displayName)
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := s.owners.Create(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// GetOwner returns an owner that has not been deleted.
func (s *Service) GetOwner(ctx context.Context, id string) (*models.Owner, error) {
	return s.owners.Get(ctx, id)
}

func (s *Service) ListOwners(ctx context.Context) ([]*models.Owner, error) {
	return s.owners.List(ctx, map[string]any{})
}

func (s *Service) requireOwner(ctx context.Context, ownerID string) error {
	ok, err := s.owners.Resolvable(ctx, ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.NewValidationError("owner_id", "unknown owner %s", ownerID)
	}
	return nil
}
