package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/urfave/cli/v3"
)

// PairCreate stores a production/archive pair with its rotation policy.
func (r *Runner) PairCreate(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	policy := models.RotationPolicy{
		RetainNewest:         cmd.Int("retain-newest"),
		MaxAgeDays:           cmd.Int("max-age-days"),
		ReplenishPlaylistRef: cmd.String("replenish-from"),
		ReplenishCount:       cmd.Int("replenish-count"),
	}

	pair, err := svc.CreatePair(ctx, cmd.String("owner"), cmd.String("production"), cmd.String("archive"), policy)
	if err != nil {
		return err
	}

	r.logger.Info("pair created", "pair_id", pair.ID, "owner_id", pair.OwnerID)
	return r.writePlain("✓ Pair created: %s\n", pair.ID)
}

// PairList lists playlist pairs.
func (r *Runner) PairList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	pairs, err := svc.ListPairs(ctx, cmd.String("owner"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if pairs == nil {
			pairs = []*models.PlaylistPair{}
		}
		return r.writeJSON(pairs, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d pairs:\n\n", len(pairs))
	for i, p := range pairs {
		r.writePlain("%d. %s → %s\n", i+1, p.ProductionPlaylistRef, p.ArchivePlaylistRef)
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Owner: %s\n", p.OwnerID)
		r.writePlain("   Policy: %s\n\n", describePolicy(p.Policy))
	}
	return nil
}

// PairDelete soft-deletes a pair.
func (r *Runner) PairDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: pair id", shared.ErrMissingArgument)
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	if err := svc.DeletePair(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Pair deleted: %s\n", id)
}

func describePolicy(p models.RotationPolicy) string {
	desc := ""
	if p.RetainNewest > 0 {
		desc = fmt.Sprintf("keep newest %d", p.RetainNewest)
	}
	if p.MaxAgeDays > 0 {
		if desc != "" {
			desc += ", "
		}
		desc += fmt.Sprintf("archive after %d days", p.MaxAgeDays)
	}
	if p.ReplenishCount > 0 {
		desc += fmt.Sprintf(", replenish %d from %s", p.ReplenishCount, p.ReplenishPlaylistRef)
	}
	return desc
}
