package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/cadence/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase creates the config file when missing, then initializes the database and runs migrations.
//
// A freshly written config holds the defaults already in use, so it is not reloaded.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := r.openDatabase()
	if err != nil {
		return err
	}

	version, _, err := shared.SchemaVersion(db)
	if err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return r.writePlain("✓ Database ready at %s (schema version %d)\n", r.config.Database.Path, version)
}

// SetupRollback reverts the most recently applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db := r.db
	if db == nil {
		var err error
		if db, err = r.connect(); err != nil {
			return err
		}
		r.db = db
	}

	version, err := shared.RollbackMigration(db)
	if err != nil {
		return err
	}

	r.logger.Warn("migration rolled back", "version", version, "path", r.config.Database.Path)
	return r.writePlain("✓ Rolled back migration %04d\n", version)
}

// SetupKey prints a new encryption key for sealing refresh tokens.
func (r *Runner) SetupKey(ctx context.Context, cmd *cli.Command) error {
	key, err := shared.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	r.writePlain("%s\n", key)
	r.writePlainln("Set it as security.encryption_key in %s or export %s.", r.configPath, shared.EncryptionKeyEnv)
	r.writePlain("Changing the key makes stored credentials unreadable; owners must log in again.\n")
	return nil
}
