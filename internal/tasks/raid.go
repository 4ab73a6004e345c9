package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/services"
)

// Raider copies new tracks from upstream sources into a destination playlist.
type Raider struct {
	API       services.PlaylistAPI
	Snapshots SnapshotStore
	MaxPerRun int // 0 means unlimited
	Filters   *models.AudioFilters
	Now       time.Time

	progress reporter
}

// raidState is shared across sources within one run.
type raidState struct {
	present   map[string]struct{}
	remaining int
	capped    bool
}

// Run processes sources in order. Sources are expected oldest sync first.
//
// A source failure is recorded and the remaining sources continue. The run fails only
// when every source failed; no sources at all is a success.
func (r *Raider) Run(ctx context.Context, sources []*models.UpstreamSource, destination string) (models.ResultSummary, error) {
	var result models.ResultSummary
	if len(sources) == 0 {
		return result, nil
	}

	r.progress.send(fetchDestUpdate(destination))
	existing, err := r.API.PlaylistTracks(ctx, destination)
	if err != nil {
		return result, fmt.Errorf("failed to read destination %s: %w", destination, err)
	}

	state := &raidState{present: models.TrackSet(existing), remaining: r.MaxPerRun, capped: r.MaxPerRun > 0}

	var firstErr error
	failed := 0
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		r.progress.send(fetchSourceUpdate(i+1, len(sources), src))
		added, warn, err := r.raidSource(ctx, src, destination, state, i+1, len(sources))
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if result.PerSourceErrors == nil {
				result.PerSourceErrors = map[string]string{}
			}
			result.PerSourceErrors[src.ID] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}

		result.Added = append(result.Added, added...)
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
		}
	}
	result.TracksMoved = len(result.Added)

	if failed == len(sources) {
		return result, fmt.Errorf("all %d sources failed: %w", failed, firstErr)
	}
	return result, nil
}

// raidSource writes one source's new tracks and then advances its snapshot.
func (r *Raider) raidSource(ctx context.Context, src *models.UpstreamSource, destination string, state *raidState, step, total int) ([]string, string, error) {
	current, err := r.fetch(ctx, src)
	if err != nil {
		return nil, "", err
	}

	seen := src.SnapshotSet()
	var delta []models.Track
	for _, t := range current {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		delta = append(delta, t)
	}

	candidates, err := r.filter(ctx, delta)
	if err != nil {
		return nil, "", err
	}
	r.progress.send(filterUpdate(step, total, len(delta), len(candidates)))

	queued := make([]string, 0, len(candidates))
	notReached := map[string]struct{}{}
	for _, t := range candidates {
		if _, ok := state.present[t.ID]; ok {
			continue
		}
		if state.capped && state.remaining <= 0 {
			notReached[t.ID] = struct{}{}
			continue
		}
		queued = append(queued, t.ID)
		state.present[t.ID] = struct{}{}
		state.remaining--
	}

	if len(queued) > 0 {
		r.progress.send(writeTracksUpdate(step, total, destination, queued))
		if err := r.API.AddTracks(ctx, destination, queued); err != nil {
			for _, id := range queued {
				delete(state.present, id)
			}
			state.remaining += len(queued)
			return nil, "", fmt.Errorf("failed to add tracks to %s: %w", destination, err)
		}
	}

	snapshot := make([]string, 0, len(current))
	for _, t := range current {
		if _, ok := notReached[t.ID]; !ok {
			snapshot = append(snapshot, t.ID)
		}
	}

	var warn string
	if err := r.Snapshots.AdvanceSnapshot(ctx, src.ID, snapshot, r.Now); err != nil {
		warn = fmt.Sprintf("source %s: snapshot not advanced: %v", src.ID, err)
	}
	return queued, warn, nil
}

func (r *Raider) fetch(ctx context.Context, src *models.UpstreamSource) ([]models.Track, error) {
	var (
		tracks []models.Track
		err    error
	)
	switch src.SourceType {
	case models.SourceArtist:
		tracks, err = r.API.ArtistTracks(ctx, src.SourceRef)
	default:
		tracks, err = r.API.PlaylistTracks(ctx, src.SourceRef)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", src.SourceType, src.SourceRef, err)
	}
	return tracks, nil
}

func (r *Raider) filter(ctx context.Context, tracks []models.Track) ([]models.Track, error) {
	if r.Filters == nil || len(tracks) == 0 {
		return tracks, nil
	}

	var features map[string]models.AudioFeatures
	if r.Filters.NeedsFeatures() {
		var err error
		features, err = r.API.AudioFeatures(ctx, models.TrackIDs(tracks))
		if err != nil {
			return nil, fmt.Errorf("failed to load audio features: %w", err)
		}
	}

	kept := tracks[:0:0]
	for _, t := range tracks {
		var f *models.AudioFeatures
		if feat, ok := features[t.ID]; ok {
			f = &feat
		}
		if r.Filters.Accept(t, f) {
			kept = append(kept, t)
		}
	}
	return kept, nil
}
