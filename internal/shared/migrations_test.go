package shared

import (
	"errors"
	"testing"
)

func TestMigrationRunner(t *testing.T) {
	t.Run("loadMigrations", func(t *testing.T) {
		migrations, err := loadMigrations()
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		if len(migrations) == 0 {
			t.Fatal("expected at least one migration")
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}

		for _, m := range migrations {
			if m.Up == "" {
				t.Errorf("migration version %d missing up SQL", m.Version)
			}
			if m.Down == "" {
				t.Errorf("migration version %d missing down SQL", m.Version)
			}
		}
	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		if err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}
		if count == 0 {
			t.Error("expected at least one migration to be applied")
		}

		_, err = db.Exec("SELECT 1 FROM schedules LIMIT 1")
		if err != nil {
			t.Errorf("schedules table should exist after migrations: %v", err)
		}

		version, ok, err := SchemaVersion(db)
		if err != nil || !ok {
			t.Fatalf("SchemaVersion() = %d, %v, %v", version, ok, err)
		}

		rolledBack, err := RollbackMigration(db)
		if err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}
		if rolledBack != version {
			t.Errorf("rolled back version %d, want %d", rolledBack, version)
		}

		var newCount int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&newCount)
		if err != nil {
			t.Fatalf("failed to query schema_migrations after rollback: %v", err)
		}
		if newCount >= count {
			t.Errorf("expected migration count to decrease after rollback, got %d (was %d)", newCount, count)
		}
	})

	t.Run("Idempotent Migrations", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations first time: %v", err)
		}

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations second time: %v", err)
		}

		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
		if err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}

		migrations, _ := loadMigrations()
		if count != len(migrations) {
			t.Errorf("expected %d migrations to be applied, got %d", len(migrations), count)
		}
	})

	t.Run("Rollback to empty", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		if _, err := db.Exec("SELECT consecutive_auth_failure_count FROM schedules LIMIT 1"); err != nil {
			t.Fatalf("auth failure column should exist: %v", err)
		}

		migrations, _ := loadMigrations()
		for i := len(migrations) - 1; i >= 0; i-- {
			version, err := RollbackMigration(db)
			if err != nil {
				t.Fatalf("failed to rollback: %v", err)
			}
			if version != migrations[i].Version {
				t.Errorf("rolled back %d, want %d", version, migrations[i].Version)
			}
		}

		if _, err := db.Exec("SELECT 1 FROM schedules LIMIT 1"); err == nil {
			t.Error("schedules table should be gone after a full rollback")
		}
		if _, ok, err := SchemaVersion(db); err != nil || ok {
			t.Errorf("expected empty ledger, got ok=%v err=%v", ok, err)
		}
		if _, err := RollbackMigration(db); !errors.Is(err, ErrNoMigrations) {
			t.Errorf("expected ErrNoMigrations, got %v", err)
		}
	})
}

func TestStatements(t *testing.T) {
	script := `
		-- leading comment
		CREATE TABLE a (id TEXT); -- trailing
		;
		CREATE INDEX b ON a(id);
	`

	got := statements(script)
	want := []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX b ON a(id)"}
	if len(got) != len(want) {
		t.Fatalf("statements() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}
