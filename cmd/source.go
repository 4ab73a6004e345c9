package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/urfave/cli/v3"
)

// SourceCreate registers an upstream source for raids.
func (r *Runner) SourceCreate(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	src, err := svc.CreateSource(ctx, cmd.String("owner"), models.SourceType(cmd.String("type")), cmd.String("ref"))
	if err != nil {
		return err
	}

	r.logger.Info("source created", "source_id", src.ID, "owner_id", src.OwnerID)
	return r.writePlain("✓ Source created: %s\n", src.ID)
}

// SourceList lists upstream sources.
func (r *Runner) SourceList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	sources, err := svc.ListSources(ctx, cmd.String("owner"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if sources == nil {
			sources = []*models.UpstreamSource{}
		}
		return r.writeJSON(sources, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d sources:\n\n", len(sources))
	for i, s := range sources {
		r.writePlain("%d. %s %s\n", i+1, s.SourceType, s.SourceRef)
		r.writePlain("   ID: %s\n", s.ID)
		r.writePlain("   Owner: %s\n", s.OwnerID)
		r.writePlain("   Snapshot: %d tracks\n", len(s.LastSnapshot))
		if s.LastSyncedAt != nil {
			r.writePlain("   Last synced: %s\n", s.LastSyncedAt.UTC().Format("2006-01-02 15:04:05Z"))
		}
		r.writePlain("\n")
	}
	return nil
}

// SourceDelete soft-deletes a source.
func (r *Runner) SourceDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	if err := svc.DeleteSource(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Source deleted: %s\n", id)
}
