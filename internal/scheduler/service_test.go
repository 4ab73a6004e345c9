package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchedule(t *testing.T) {
	ctx := context.Background()

	t.Run("interval shuffle defaults", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")

		s, err := f.service.CreateSchedule(ctx, ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobShuffle,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "every_6h",
			TargetRefs:    models.TargetRefs{PlaylistID: "pl-1"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID)
		assert.True(t, s.Enabled)
		assert.Equal(t, DefaultAlgorithm, s.Params.Algorithm)
		require.NotNil(t, s.NextRunAt)
		assert.Equal(t, f.now, *s.NextRunAt, "a new interval schedule is due immediately")

		got, err := f.service.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, DefaultAlgorithm, got.Params.Algorithm)
	})

	t.Run("cron next run in UTC", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")

		s, err := f.service.CreateSchedule(ctx, ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobShuffle,
			ScheduleType:  models.ScheduleCron,
			ScheduleValue: "0 9 * * 1",
			TargetRefs:    models.TargetRefs{PlaylistID: "pl-1"},
			Params:        models.JobParams{Algorithm: "artist_spread"},
		})
		require.NoError(t, err)
		require.NotNil(t, s.NextRunAt)
		// 2024-06-01 is a Saturday.
		assert.Equal(t, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC), s.NextRunAt.UTC())
	})

	t.Run("disabled has no next run", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")

		s, err := f.service.CreateSchedule(ctx, ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobShuffle,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "daily",
			TargetRefs:    models.TargetRefs{PlaylistID: "pl-1"},
			Disabled:      true,
		})
		require.NoError(t, err)
		assert.False(t, s.Enabled)
		assert.Nil(t, s.NextRunAt)
	})

	t.Run("raid and rotate references", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")

		src, err := f.service.CreateSource(ctx, owner.ID, models.SourcePlaylist, "upstream")
		require.NoError(t, err)
		pair, err := f.service.CreatePair(ctx, owner.ID, "prod", "archive", models.RotationPolicy{RetainNewest: 50})
		require.NoError(t, err)

		raid, err := f.service.CreateSchedule(ctx, ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobRaidAndShuffle,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "every_12h",
			TargetRefs:    models.TargetRefs{PlaylistID: "dest", SourceIDs: []string{src.ID}},
			Params:        models.JobParams{MaxPerRun: 10},
		})
		require.NoError(t, err)
		assert.Equal(t, DefaultAlgorithm, raid.Params.Algorithm)

		_, err = f.service.CreateSchedule(ctx, ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobRotate,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "weekly",
			TargetRefs:    models.TargetRefs{PairID: pair.ID},
		})
		require.NoError(t, err)

		all, err := f.service.ListSchedules(ctx, owner.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestCreateScheduleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := f.owner(t, "a@example.com")
	stranger := f.owner(t, "b@example.com")

	foreignSource, err := f.service.CreateSource(ctx, stranger.ID, models.SourceArtist, "artist-1")
	require.NoError(t, err)
	foreignPair, err := f.service.CreatePair(ctx, stranger.ID, "p", "a", models.RotationPolicy{MaxAgeDays: 30})
	require.NoError(t, err)

	base := func(mut func(*ScheduleSpec)) ScheduleSpec {
		spec := ScheduleSpec{
			OwnerID:       owner.ID,
			JobType:       models.JobShuffle,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "daily",
			TargetRefs:    models.TargetRefs{PlaylistID: "pl-1"},
		}
		mut(&spec)
		return spec
	}

	tests := []struct {
		name  string
		spec  ScheduleSpec
		field string
	}{
		{"unknown interval", base(func(s *ScheduleSpec) { s.ScheduleValue = "hourly" }), "schedule_value"},
		{"bad cron", base(func(s *ScheduleSpec) {
			s.ScheduleType = models.ScheduleCron
			s.ScheduleValue = "61 * * * *"
		}), "schedule_value"},
		{"unknown job type", base(func(s *ScheduleSpec) { s.JobType = "merge" }), "job_type"},
		{"missing playlist", base(func(s *ScheduleSpec) { s.TargetRefs = models.TargetRefs{} }), "target_refs.playlist_id"},
		{"unknown algorithm", base(func(s *ScheduleSpec) { s.Params.Algorithm = "alphabetical" }), "params.algorithm"},
		{"unknown owner", base(func(s *ScheduleSpec) { s.OwnerID = "nobody" }), "owner_id"},
		{"unknown source", base(func(s *ScheduleSpec) {
			s.JobType = models.JobRaid
			s.TargetRefs = models.TargetRefs{PlaylistID: "dest", SourceIDs: []string{"missing"}}
		}), "target_refs.source_ids"},
		{"foreign source", base(func(s *ScheduleSpec) {
			s.JobType = models.JobRaid
			s.TargetRefs = models.TargetRefs{PlaylistID: "dest", SourceIDs: []string{foreignSource.ID}}
		}), "target_refs.source_ids"},
		{"foreign pair", base(func(s *ScheduleSpec) {
			s.JobType = models.JobRotate
			s.TargetRefs = models.TargetRefs{PairID: foreignPair.ID}
		}), "target_refs.pair_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateSchedule(ctx, tt.spec)
			require.Error(t, err)

			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, shared.ErrInvalidInput)
		})
	}

	all, err := f.service.ListSchedules(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "rejected schedules are never stored")
}

func TestToggleSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := f.owner(t, "a@example.com")
	s := f.shuffleSchedule(t, owner.ID, "pl-1")

	require.NoError(t, f.schedules.Pause(ctx, s.ID, models.PausedAuthExpired))

	paused, err := f.service.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, paused.Enabled)
	assert.Equal(t, models.PausedAuthExpired, paused.PausedReason)

	enabled, err := f.service.ToggleSchedule(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.Empty(t, enabled.PausedReason)
	assert.Zero(t, enabled.ConsecutiveFailureCount)
	require.NotNil(t, enabled.NextRunAt)

	disabled, err := f.service.ToggleSchedule(ctx, s.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	_, err = f.service.ToggleSchedule(ctx, "missing", true)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRunNow(t *testing.T) {
	ctx := context.Background()

	t.Run("runs through the executor", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")
		s := f.shuffleSchedule(t, owner.ID, "pl-1")

		exec, err := f.service.RunNow(ctx, s.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.TriggerManual, exec.Trigger)
		assert.Equal(t, models.StatusSuccess, exec.Status)

		got, err := f.service.GetSchedule(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.RunCount)
	})

	t.Run("disabled schedule creates no execution", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")
		s := f.shuffleSchedule(t, owner.ID, "pl-1")
		_, err := f.service.ToggleSchedule(ctx, s.ID, false)
		require.NoError(t, err)

		_, err = f.service.RunNow(ctx, s.ID, nil)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))

		execs, err := f.service.ListExecutions(ctx, s.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, execs)
	})

	t.Run("returns the running execution", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")
		s := f.shuffleSchedule(t, owner.ID, "pl-1")

		running, _, err := f.executions.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID, StartedAt: f.now})
		require.NoError(t, err)

		exec, err := f.service.RunNow(ctx, s.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, running.ID, exec.ID)
		assert.Equal(t, models.StatusRunning, exec.Status)

		execs, err := f.service.ListExecutions(ctx, s.ID, 0)
		require.NoError(t, err)
		assert.Len(t, execs, 1)
		assert.Zero(t, f.api.CallCount("PlaylistItems"))
	})

	t.Run("without executor", func(t *testing.T) {
		f := newFixture(t, nil)
		owner := f.owner(t, "a@example.com")
		s := f.shuffleSchedule(t, owner.ID, "pl-1")

		svc := NewService(f.db, nil, shared.NewLogger(io.Discard))
		_, err := svc.RunNow(ctx, s.ID, nil)
		assert.ErrorIs(t, err, shared.ErrNotImplemented)
	})
}

func TestDeleteScheduleKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	owner := f.owner(t, "a@example.com")
	s := f.shuffleSchedule(t, owner.ID, "pl-1")

	exec, err := f.service.RunNow(ctx, s.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteSchedule(ctx, s.ID))

	_, err = f.service.GetSchedule(ctx, s.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	execs, err := f.service.ListExecutions(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, exec.ID, execs[0].ID)

	got, err := f.service.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
}

func TestOwnedEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	owner, err := f.service.CreateOwner(ctx, "a@example.com", "A")
	require.NoError(t, err)

	_, err = f.service.CreateOwner(ctx, "a@example.com", "Again")
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	_, err = f.service.CreateOwner(ctx, "not-an-email", "")
	assert.True(t, shared.IsValidation(err))

	owners, err := f.service.ListOwners(ctx)
	require.NoError(t, err)
	assert.Len(t, owners, 1)

	t.Run("pairs", func(t *testing.T) {
		_, err := f.service.CreatePair(ctx, "nobody", "p", "a", models.RotationPolicy{RetainNewest: 1})
		assert.True(t, shared.IsValidation(err))

		_, err = f.service.CreatePair(ctx, owner.ID, "same", "same", models.RotationPolicy{RetainNewest: 1})
		assert.True(t, shared.IsValidation(err))

		pair, err := f.service.CreatePair(ctx, owner.ID, "p", "a", models.RotationPolicy{RetainNewest: 1})
		require.NoError(t, err)

		pairs, err := f.service.ListPairs(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, pairs, 1)

		require.NoError(t, f.service.DeletePair(ctx, pair.ID))
		pairs, err = f.service.ListPairs(ctx, owner.ID)
		require.NoError(t, err)
		assert.Empty(t, pairs)
	})

	t.Run("sources", func(t *testing.T) {
		_, err := f.service.CreateSource(ctx, owner.ID, "album", "x")
		assert.True(t, shared.IsValidation(err))

		src, err := f.service.CreateSource(ctx, owner.ID, models.SourceArtist, "artist-1")
		require.NoError(t, err)
		assert.Empty(t, src.LastSnapshot)

		sources, err := f.service.ListSources(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, sources, 1)

		require.NoError(t, f.service.DeleteSource(ctx, src.ID))
		sources, err = f.service.ListSources(ctx, owner.ID)
		require.NoError(t, err)
		assert.Empty(t, sources)
	})
}
