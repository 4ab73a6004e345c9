package main

import (
	"context"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/urfave/cli/v3"
)

// OwnerAdd creates an owner.
func (r *Runner) OwnerAdd(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	owner, err := svc.CreateOwner(ctx, cmd.String("email"), cmd.String("name"))
	if err != nil {
		return err
	}

	r.logger.Info("owner created", "owner_id", owner.ID)
	r.writePlain("✓ Owner created: %s\n", owner.ID)
	r.writePlain("Next: cadence auth login --owner %s\n", owner.ID)
	return nil
}

// OwnerList lists owners.
func (r *Runner) OwnerList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.management(false)
	if err != nil {
		return err
	}

	owners, err := svc.ListOwners(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if owners == nil {
			owners = []*models.Owner{}
		}
		return r.writeJSON(owners, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d owners:\n\n", len(owners))
	for i, o := range owners {
		r.writePlain("%d. %s\n", i+1, o.Email)
		if o.DisplayName != "" {
			r.writePlain("   Name: %s\n", o.DisplayName)
		}
		r.writePlain("   ID: %s\n\n", o.ID)
	}
	return nil
}
