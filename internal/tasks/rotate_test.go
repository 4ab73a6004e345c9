package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	th "github.com/desertthunder/cadence/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rotateNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func pairFor(policy models.RotationPolicy) *models.PlaylistPair {
	return &models.PlaylistPair{ID: "pair-1", ProductionPlaylistRef: "prod", ArchivePlaylistRef: "arch", Policy: policy}
}

// assertNoLoss checks every track that left production is in the archive.
func assertNoLoss(t *testing.T, api *th.FakePlaylistAPI, before []string) {
	t.Helper()
	prod := models.TrackSet(api.Playlist("prod"))
	arch := models.TrackSet(api.Playlist("arch"))
	for _, id := range before {
		_, inProd := prod[id]
		_, inArch := arch[id]
		assert.True(t, inProd || inArch, "track %s was lost", id)
	}
}

func TestRotateScenarioC(t *testing.T) {
	api := th.NewFakePlaylistAPI()
	api.SetPlaylist("prod", th.MakeTracks(rotateNow.Add(-72*time.Hour), "x", "y", "z")...)
	api.SetPlaylist("arch")

	r := &Rotator{API: api, Now: rotateNow}
	result, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 2}))
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, result.Archived)
	assert.Equal(t, []string{"y", "z"}, api.PlaylistIDs("prod"))
	assert.Equal(t, []string{"x"}, api.PlaylistIDs("arch"))

	var order []string
	for _, c := range api.Calls {
		if c.Op == "AddTracks" || c.Op == "RemoveTracks" {
			order = append(order, c.Op+":"+c.Ref)
		}
	}
	assert.Equal(t, []string{"AddTracks:arch", "RemoveTracks:prod"}, order)
}

func TestRotateArchiveFailures(t *testing.T) {
	t.Run("failed add leaves tracks in production", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		api.SetPlaylist("prod", th.MakeTracks(rotateNow.Add(-72*time.Hour), "w", "x", "y", "z")...)
		api.SetPlaylist("arch")
		api.Errors["AddTracks:arch"] = errors.New("archive unavailable")

		r := &Rotator{API: api, Now: rotateNow}
		result, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 2}))
		require.Error(t, err)

		assert.Empty(t, result.Archived)
		assert.Contains(t, result.PerTrackErrors["w"], "archive unavailable")
		assert.Contains(t, result.PerTrackErrors["x"], "archive unavailable")
		assert.Equal(t, []string{"w", "x", "y", "z"}, api.PlaylistIDs("prod"))
		assert.Zero(t, api.CallCount("RemoveTracks"))
	})

	t.Run("unconfirmed add is not removed", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		tracks := th.MakeTracks(rotateNow.Add(-72*time.Hour), "w", "x", "y", "z")
		api.SetPlaylist("prod", tracks...)
		api.SetPlaylist("arch")
		api.Drop["x"] = true

		r := &Rotator{API: api, Now: rotateNow}
		result, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 2}))
		require.NoError(t, err)

		assert.Equal(t, []string{"w"}, result.Archived)
		assert.Equal(t, "not present in archive after add", result.PerTrackErrors["x"])
		assert.Equal(t, []string{"x", "y", "z"}, api.PlaylistIDs("prod"))
		assertNoLoss(t, api, models.TrackIDs(tracks))

		status, kind, msg := Classify(result, nil)
		assert.Equal(t, models.StatusSuccess, status)
		assert.Equal(t, models.ErrorKindPartialFailure, kind)
		assert.Contains(t, msg, "track x")
	})

	t.Run("confirmation read fails", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		api.SetPlaylist("prod", th.MakeTracks(rotateNow.Add(-72*time.Hour), "x", "y", "z")...)
		api.SetPlaylist("arch")

		reads := 0
		api.Before = func(ctx context.Context, op, ref string) error {
			if op == "PlaylistTracks" && ref == "arch" {
				reads++
				if reads == 2 {
					return errors.New("read timeout")
				}
			}
			return nil
		}

		r := &Rotator{API: api, Now: rotateNow}
		_, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 2}))
		require.Error(t, err)
		assert.Zero(t, api.CallCount("RemoveTracks"))
		assert.Contains(t, api.PlaylistIDs("prod"), "x")
	})
}

func TestRotateAlreadyArchived(t *testing.T) {
	api := th.NewFakePlaylistAPI()
	tracks := th.MakeTracks(rotateNow.Add(-72*time.Hour), "x", "y", "z")
	api.SetPlaylist("prod", tracks...)
	api.SetPlaylist("arch", tracks[0])

	r := &Rotator{API: api, Now: rotateNow}
	result, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 2}))
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, result.Archived)
	assert.Zero(t, api.CallCount("AddTracks"), "re-entry after an interrupted run does not add twice")
	assert.Equal(t, []string{"x"}, api.PlaylistIDs("arch"))
}

func TestRotateBatches(t *testing.T) {
	ids := make([]string, 260)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%03d", i)
	}
	tracks := th.MakeTracks(rotateNow.Add(-400*time.Hour), ids...)

	t.Run("every removed track is archived", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		api.SetPlaylist("prod", tracks...)
		api.SetPlaylist("arch")

		r := &Rotator{API: api, Now: rotateNow}
		result, err := r.Run(context.Background(), pairFor(models.RotationPolicy{RetainNewest: 10}))
		require.NoError(t, err)

		assert.Len(t, result.Archived, 250)
		assert.Len(t, api.PlaylistIDs("prod"), 10)

		adds := api.CallsFor("AddTracks")
		require.Len(t, adds, 3)
		assert.Len(t, adds[0].TrackIDs, 100)
		assert.Len(t, adds[1].TrackIDs, 100)
		assert.Len(t, adds[2].TrackIDs, 50)
		assertNoLoss(t, api, ids)
	})

	t.Run("cancellation stops at a batch boundary", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		api.SetPlaylist("prod", tracks...)
		api.SetPlaylist("arch")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wrapped := &cancelAfterRemove{FakePlaylistAPI: api, cancel: cancel}

		r := &Rotator{API: wrapped, Now: rotateNow}
		result, err := r.Run(ctx, pairFor(models.RotationPolicy{RetainNewest: 10}))
		require.ErrorIs(t, err, context.Canceled)

		assert.Len(t, result.Archived, 100)
		assert.Len(t, api.PlaylistIDs("prod"), 160)
		assert.Len(t, api.PlaylistIDs("arch"), 100)
		assertNoLoss(t, api, ids)
	})
}

// cancelAfterRemove cancels the run once the first batch has been removed.
type cancelAfterRemove struct {
	*th.FakePlaylistAPI
	cancel context.CancelFunc
}

func (c *cancelAfterRemove) RemoveTracks(ctx context.Context, ref string, ids []string) error {
	err := c.FakePlaylistAPI.RemoveTracks(ctx, ref, ids)
	c.cancel()
	return err
}

func TestRotateReplenish(t *testing.T) {
	t.Run("adds pool tracks not in either playlist", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		prod := th.MakeTracks(rotateNow.Add(-72*time.Hour), "x", "y", "z")
		api.SetPlaylist("prod", prod...)
		api.SetPlaylist("arch", th.MakeTracks(rotateNow, "old")...)
		api.SetPlaylist("pool", th.MakeTracks(rotateNow, "old", "y", "x", "p1", "p2", "p3")...)

		policy := models.RotationPolicy{RetainNewest: 2, ReplenishPlaylistRef: "pool", ReplenishCount: 2}
		r := &Rotator{API: api, Now: rotateNow}
		result, err := r.Run(context.Background(), pairFor(policy))
		require.NoError(t, err)

		assert.Equal(t, []string{"x"}, result.Archived)
		assert.Equal(t, []string{"p1", "p2"}, result.Replenished)
		assert.Equal(t, []string{"y", "z", "p1", "p2"}, api.PlaylistIDs("prod"))
		assert.Equal(t, 3, result.TracksMoved)
	})

	t.Run("failure is a warning", func(t *testing.T) {
		api := th.NewFakePlaylistAPI()
		api.SetPlaylist("prod", th.MakeTracks(rotateNow.Add(-72*time.Hour), "x", "y", "z")...)
		api.SetPlaylist("arch")
		api.Errors["PlaylistTracks:pool"] = errors.New("pool missing")

		policy := models.RotationPolicy{RetainNewest: 2, ReplenishPlaylistRef: "pool", ReplenishCount: 1}
		r := &Rotator{API: api, Now: rotateNow}
		result, err := r.Run(context.Background(), pairFor(policy))
		require.NoError(t, err)

		assert.Equal(t, []string{"x"}, result.Archived)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "pool missing")
	})
}

func TestStaleTracks(t *testing.T) {
	tracks := []models.Track{
		{ID: "new", AddedAt: rotateNow.AddDate(0, 0, -1)},
		{ID: "old", AddedAt: rotateNow.AddDate(0, 0, -40)},
		{ID: "mid", AddedAt: rotateNow.AddDate(0, 0, -10)},
		{ID: "ancient", AddedAt: rotateNow.AddDate(0, 0, -400)},
	}

	tests := []struct {
		name   string
		policy models.RotationPolicy
		want   []string
	}{
		{"retain newest", models.RotationPolicy{RetainNewest: 2}, []string{"ancient", "old"}},
		{"retain more than present", models.RotationPolicy{RetainNewest: 10}, nil},
		{"max age", models.RotationPolicy{MaxAgeDays: 30}, []string{"ancient", "old"}},
		{"either rule", models.RotationPolicy{RetainNewest: 3, MaxAgeDays: 5}, []string{"ancient", "old", "mid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StaleTracks(tracks, tt.policy, rotateNow)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, models.TrackIDs(got))
		})
	}
}
