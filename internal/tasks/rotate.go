package tasks

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
)

// batchSize is the provider's per-request track limit.
const batchSize = 100

// Rotator moves stale tracks from a production playlist into its archive.
//
// A track is removed from production only after the archive is re-read and contains it.
type Rotator struct {
	API services.PlaylistAPI
	Now time.Time

	progress reporter
}

// Run archives stale tracks batch by batch, then optionally replenishes production.
// Cancellation is observed between batches, never inside one.
func (r *Rotator) Run(ctx context.Context, pair *models.PlaylistPair) (models.ResultSummary, error) {
	var result models.ResultSummary
	production, archive := pair.ProductionPlaylistRef, pair.ArchivePlaylistRef

	r.progress.send(fetchDestUpdate(production))
	current, err := r.API.PlaylistTracks(ctx, production)
	if err != nil {
		return result, fmt.Errorf("failed to read production playlist %s: %w", production, err)
	}

	stale := StaleTracks(current, pair.Policy, r.Now)
	var firstErr error

	if len(stale) > 0 {
		archived, err := r.API.PlaylistTracks(ctx, archive)
		if err != nil {
			return result, fmt.Errorf("failed to read archive playlist %s: %w", archive, err)
		}
		inArchive := models.TrackSet(archived)

		batches := chunkTracks(stale, batchSize)
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			r.progress.send(archiveUpdate(i+1, len(batches), len(batch)))

			var err error
			inArchive, err = r.archiveBatch(ctx, pair, batch, inArchive, &result)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		if len(result.Archived) == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: no stale track was confirmed in the archive", shared.ErrAPIRequest)
			}
			return result, fmt.Errorf("rotation archived nothing: %w", firstErr)
		}
	}

	if pair.Policy.ReplenishCount > 0 && pair.Policy.ReplenishPlaylistRef != "" {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.replenish(ctx, pair, &result); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("replenish from %s failed: %v", pair.Policy.ReplenishPlaylistRef, err))
		}
	}

	result.TracksMoved = len(result.Archived) + len(result.Replenished)
	return result, nil
}

// archiveBatch runs the add, confirm, remove sequence for one batch and returns the
// archive membership as last observed.
func (r *Rotator) archiveBatch(ctx context.Context, pair *models.PlaylistPair, batch []models.Track, inArchive map[string]struct{}, result *models.ResultSummary) (map[string]struct{}, error) {
	production, archive := pair.ProductionPlaylistRef, pair.ArchivePlaylistRef
	failed := map[string]string{}
	var batchErr error

	var missing []string
	for _, t := range batch {
		if _, ok := inArchive[t.ID]; !ok {
			missing = append(missing, t.ID)
		}
	}

	if len(missing) > 0 {
		if err := r.API.AddTracks(ctx, archive, missing); err != nil {
			batchErr = err
			for _, id := range missing {
				failed[id] = "archive add failed: " + err.Error()
			}
		}

		refreshed, err := r.API.PlaylistTracks(ctx, archive)
		if err != nil {
			// Without confirmation nothing in the batch may leave production.
			for _, t := range batch {
				if _, ok := failed[t.ID]; !ok {
					failed[t.ID] = "archive confirmation failed: " + err.Error()
				}
			}
			recordTrackErrors(result, failed)
			return inArchive, err
		}
		inArchive = models.TrackSet(refreshed)
	}

	var confirmed []string
	for _, t := range batch {
		if _, ok := inArchive[t.ID]; ok {
			confirmed = append(confirmed, t.ID)
			delete(failed, t.ID)
			continue
		}
		if _, ok := failed[t.ID]; !ok {
			failed[t.ID] = "not present in archive after add"
		}
	}

	if len(confirmed) > 0 {
		if err := r.API.RemoveTracks(ctx, production, confirmed); err != nil {
			for _, id := range confirmed {
				failed[id] = "remove from production failed: " + err.Error()
			}
			recordTrackErrors(result, failed)
			return inArchive, err
		}
		result.Archived = append(result.Archived, confirmed...)
	}

	recordTrackErrors(result, failed)
	return inArchive, batchErr
}

// replenish adds pool tracks that are in neither production nor the archive.
func (r *Rotator) replenish(ctx context.Context, pair *models.PlaylistPair, result *models.ResultSummary) error {
	pool, err := r.API.PlaylistTracks(ctx, pair.Policy.ReplenishPlaylistRef)
	if err != nil {
		return err
	}
	production, err := r.API.PlaylistTracks(ctx, pair.ProductionPlaylistRef)
	if err != nil {
		return err
	}
	archive, err := r.API.PlaylistTracks(ctx, pair.ArchivePlaylistRef)
	if err != nil {
		return err
	}

	exclude := models.TrackSet(production)
	for _, t := range archive {
		exclude[t.ID] = struct{}{}
	}

	var picks []string
	for _, t := range pool {
		if len(picks) == pair.Policy.ReplenishCount {
			break
		}
		if _, ok := exclude[t.ID]; ok {
			continue
		}
		exclude[t.ID] = struct{}{}
		picks = append(picks, t.ID)
	}
	if len(picks) == 0 {
		return nil
	}

	r.progress.send(replenishUpdate(pair.Policy.ReplenishPlaylistRef, picks))
	if err := r.API.AddTracks(ctx, pair.ProductionPlaylistRef, picks); err != nil {
		return err
	}
	result.Replenished = append(result.Replenished, picks...)
	return nil
}

// StaleTracks returns production tracks that fall outside the rotation policy, oldest first.
//
// A track is stale when it is beyond the retain_newest count or older than max_age_days.
// Duplicate entries of one track are reported once.
func StaleTracks(tracks []models.Track, policy models.RotationPolicy, now time.Time) []models.Track {
	byAge := slices.Clone(tracks)
	slices.SortStableFunc(byAge, func(a, b models.Track) int { return b.AddedAt.Compare(a.AddedAt) })

	cutoff := time.Time{}
	if policy.MaxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -policy.MaxAgeDays)
	}

	seen := map[string]struct{}{}
	var stale []models.Track
	for i, t := range byAge {
		beyondCount := policy.RetainNewest > 0 && i >= policy.RetainNewest
		tooOld := !cutoff.IsZero() && t.AddedAt.Before(cutoff)
		if !beyondCount && !tooOld {
			continue
		}
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		stale = append(stale, t)
	}

	slices.Reverse(stale)
	return stale
}

func recordTrackErrors(result *models.ResultSummary, failed map[string]string) {
	if len(failed) == 0 {
		return
	}
	if result.PerTrackErrors == nil {
		result.PerTrackErrors = map[string]string{}
	}
	for id, msg := range failed {
		result.PerTrackErrors[id] = msg
	}
}

func chunkTracks(tracks []models.Track, size int) [][]models.Track {
	var out [][]models.Track
	for size < len(tracks) {
		tracks, out = tracks[size:], append(out, tracks[:size])
	}
	if len(tracks) > 0 {
		out = append(out, tracks[:len(tracks):len(tracks)])
	}
	return out
}
