// package tasks implements the scheduled playlist jobs and the executor that runs them.
//
// Strategies are registered statically by job type. The [Executor] owns every schedule and
// execution state change; strategies only talk to the provider and report a summary.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
)

// SnapshotStore advances a source's last seen track set after a successful write.
type SnapshotStore interface {
	AdvanceSnapshot(ctx context.Context, id string, snapshot []string, syncedAt time.Time) error
}

// Job is everything a strategy needs for one run.
type Job struct {
	Schedule  *models.Schedule
	API       services.PlaylistAPI
	Sources   []*models.UpstreamSource
	Pair      *models.PlaylistPair
	Snapshots SnapshotStore
	Now       time.Time
	Logger    *log.Logger

	progress reporter
}

// Strategy runs one job type.
type Strategy interface {
	Run(ctx context.Context, job *Job) (models.ResultSummary, error)
}

// StrategyFunc adapts a function to [Strategy].
type StrategyFunc func(ctx context.Context, job *Job) (models.ResultSummary, error)

func (f StrategyFunc) Run(ctx context.Context, job *Job) (models.ResultSummary, error) {
	return f(ctx, job)
}

var strategies = map[models.JobType]Strategy{
	models.JobShuffle:        StrategyFunc(runShuffle),
	models.JobRaid:           StrategyFunc(runRaid),
	models.JobRaidAndShuffle: StrategyFunc(runRaidAndShuffle),
	models.JobRotate:         StrategyFunc(runRotate),
}

// Lookup returns the strategy registered for a job type.
func Lookup(jobType models.JobType) (Strategy, error) {
	s, ok := strategies[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for job type %q", shared.ErrNotImplemented, jobType)
	}
	return s, nil
}

func runShuffle(ctx context.Context, job *Job) (models.ResultSummary, error) {
	p := job.Schedule.Params
	return Shuffle(ctx, job.API, job.Schedule.TargetRefs.PlaylistID, p.Algorithm, p.AlgorithmParams, job.progress)
}

func runRaid(ctx context.Context, job *Job) (models.ResultSummary, error) {
	r := Raider{
		API:       job.API,
		Snapshots: job.Snapshots,
		MaxPerRun: job.Schedule.Params.MaxPerRun,
		Filters:   job.Schedule.Params.Filters,
		Now:       job.Now,
		progress:  job.progress,
	}
	return r.Run(ctx, job.Sources, job.Schedule.TargetRefs.PlaylistID)
}

// runRaidAndShuffle shuffles only when the raid did not fail.
func runRaidAndShuffle(ctx context.Context, job *Job) (models.ResultSummary, error) {
	result, err := runRaid(ctx, job)
	if err != nil {
		return result, err
	}

	shuffled, err := runShuffle(ctx, job)
	result.Merge(shuffled)
	return result, err
}

func runRotate(ctx context.Context, job *Job) (models.ResultSummary, error) {
	if job.Pair == nil {
		return models.ResultSummary{}, fmt.Errorf("%w: playlist pair %s", shared.ErrNotFound, job.Schedule.TargetRefs.PairID)
	}
	r := Rotator{API: job.API, Now: job.Now, progress: job.progress}
	return r.Run(ctx, job.Pair)
}
