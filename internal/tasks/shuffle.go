package tasks

import (
	"context"
	"fmt"
	"slices"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shuffle"
)

// Shuffle reorders a playlist with the named algorithm.
//
// Items that cannot be written back (local files, unavailable tracks) keep their positions;
// everything else is shuffled around them. A playlist of at most [services.MaxReplaceItems]
// addressable items is committed with one replace. Anything else is committed with in-place
// moves, which can leave a partial order on failure but never drop an item.
// An order that matches the current one is a success with nothing written.
func Shuffle(ctx context.Context, api services.PlaylistAPI, playlistRef, algorithm string, params map[string]any, progress reporter) (models.ResultSummary, error) {
	var result models.ResultSummary

	progress.send(fetchDestUpdate(playlistRef))
	items, err := api.PlaylistItems(ctx, playlistRef)
	if err != nil {
		return result, fmt.Errorf("failed to read playlist %s: %w", playlistRef, err)
	}

	var (
		movable []models.Track
		slots   []int
	)
	for i, item := range items {
		if item.Addressable() {
			movable = append(movable, item)
			slots = append(slots, i)
		}
	}

	order, err := shuffle.Apply(algorithm, movable, params)
	if err != nil {
		return result, err
	}

	moved := shuffle.Moved(movable, order)
	progress.send(reorderUpdate(playlistRef, moved, len(movable)))
	if moved == 0 {
		return result, nil
	}

	target := targetOrder(items, slots, order)
	if len(movable) == len(items) && len(items) <= services.MaxReplaceItems {
		reordered := make([]models.Track, len(target))
		for i, from := range target {
			reordered[i] = items[from]
		}
		if err := api.ReplaceTracks(ctx, playlistRef, reordered); err != nil {
			return result, fmt.Errorf("failed to reorder playlist %s: %w", playlistRef, err)
		}
	} else if err := moveInPlace(ctx, api, playlistRef, target); err != nil {
		return result, err
	}

	result.TracksMoved = moved
	return result, nil
}

// targetOrder returns, for each final position, the current index of the item that belongs there.
// Pinned positions map to themselves; repeated IDs keep their relative order.
func targetOrder(items []models.Track, slots []int, order []models.Track) []int {
	pending := make(map[string][]int, len(slots))
	for _, i := range slots {
		pending[items[i].ID] = append(pending[items[i].ID], i)
	}

	target := make([]int, len(items))
	for i := range target {
		target[i] = i
	}
	for k, slot := range slots {
		id := order[k].ID
		target[slot] = pending[id][0]
		pending[id] = pending[id][1:]
	}
	return target
}

// moveInPlace applies target with single-item moves, front to back.
func moveInPlace(ctx context.Context, api services.PlaylistAPI, playlistRef string, target []int) error {
	current := make([]int, len(target))
	for i := range current {
		current[i] = i
	}

	moves := 0
	for pos, want := range target {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reorder of %s interrupted after %d moves: %w", playlistRef, moves, err)
		}

		from := pos + slices.Index(current[pos:], want)
		if from == pos {
			continue
		}

		if err := api.MoveTrack(ctx, playlistRef, from, pos); err != nil {
			return fmt.Errorf("failed to reorder playlist %s after %d moves: %w", playlistRef, moves, err)
		}
		current = slices.Insert(slices.Delete(current, from, from+1), pos, want)
		moves++
	}
	return nil
}
