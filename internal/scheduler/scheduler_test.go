package scheduler

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/tasks"
	th "github.com/desertthunder/cadence/internal/testing"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	require.NoError(t, shared.RunMigrations(db))

	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	db         *sql.DB
	cfg        shared.SchedulerConfig
	api        *th.FakePlaylistAPI
	executor   *tasks.Executor
	service    *Service
	now        time.Time
	schedules  *repositories.ScheduleRepository
	executions *repositories.ExecutionRepository
}

func newFixture(t *testing.T, configure func(*shared.SchedulerConfig)) *fixture {
	t.Helper()

	db := setupTestDB(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := shared.DefaultConfig().Scheduler
	cfg.ExecutionTimeout = shared.Duration{Duration: time.Minute}
	if configure != nil {
		configure(&cfg)
	}

	logger := shared.NewLogger(io.Discard)
	api := th.NewFakePlaylistAPI()
	executor := tasks.NewExecutor(db, th.NewStaticTokens(), api, cfg, logger).WithClock(clock)

	return &fixture{
		db:         db,
		cfg:        cfg,
		api:        api,
		executor:   executor,
		service:    NewService(db, executor, logger).WithClock(clock),
		now:        now,
		schedules:  repositories.NewScheduleRepository(db),
		executions: repositories.NewExecutionRepository(db),
	}
}

func (f *fixture) engine(instanceID string) *Engine {
	cfg := f.cfg
	cfg.InstanceID = instanceID
	return NewEngine(f.db, f.executor, cfg, shared.NewLogger(io.Discard)).
		WithClock(func() time.Time { return f.now })
}

func (f *fixture) owner(t *testing.T, email string) *models.Owner {
	t.Helper()
	o, err := f.service.CreateOwner(context.Background(), email, "")
	require.NoError(t, err)
	return o
}

// shuffleSchedule creates a daily shuffle over a fresh playlist named after ref.
func (f *fixture) shuffleSchedule(t *testing.T, ownerID, ref string) *models.Schedule {
	t.Helper()
	f.api.SetPlaylist(ref, th.MakeTracks(f.now.Add(-72*time.Hour), ref+"-a", ref+"-b", ref+"-c", ref+"-d")...)

	s, err := f.service.CreateSchedule(context.Background(), ScheduleSpec{
		OwnerID:       ownerID,
		JobType:       models.JobShuffle,
		ScheduleType:  models.ScheduleInterval,
		ScheduleValue: string(models.Daily),
		TargetRefs:    models.TargetRefs{PlaylistID: ref},
		Params:        models.JobParams{AlgorithmParams: map[string]any{"seed": float64(11)}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) history(t *testing.T, scheduleID string) []*models.JobExecution {
	t.Helper()
	execs, err := f.executions.ListBySchedule(context.Background(), scheduleID, 0)
	require.NoError(t, err)
	return execs
}

// gate holds every playlist read until released, so executions stay in flight.
type gate struct {
	started chan string
	release chan struct{}
}

func holdReads(api *th.FakePlaylistAPI) *gate {
	g := &gate{started: make(chan string, 16), release: make(chan struct{})}
	api.Before = func(ctx context.Context, op, ref string) error {
		if op != "PlaylistTracks" && op != "PlaylistItems" {
			return nil
		}
		select {
		case g.started <- ref:
		default:
		}
		select {
		case <-g.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g
}

func (g *gate) awaitStarted(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-g.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected %d executions in flight", n)
		}
	}
}

func (g *gate) open() { close(g.release) }
