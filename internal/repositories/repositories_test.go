package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createOwner(t *testing.T, db *sql.DB, email string) *models.Owner {
	t.Helper()

	owner := models.NewOwner(email, "Test Owner")
	if err := NewOwnerRepository(db).Create(context.Background(), owner); err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}
	return owner
}

func createShuffleSchedule(t *testing.T, db *sql.DB, ownerID string, next *time.Time) *models.Schedule {
	t.Helper()

	s := &models.Schedule{
		OwnerID:       ownerID,
		JobType:       models.JobShuffle,
		ScheduleType:  models.ScheduleInterval,
		ScheduleValue: string(models.Daily),
		Enabled:       true,
		TargetRefs:    models.TargetRefs{PlaylistID: "pl-1"},
		Params:        models.JobParams{Algorithm: "random"},
		NextRunAt:     next,
	}
	if err := NewScheduleRepository(db).Create(context.Background(), s); err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	return s
}

func TestOwnerRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create & Get", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")

		if owner.ID == "" {
			t.Fatal("owner ID should be set after creation")
		}

		retrieved, err := NewOwnerRepository(db).Get(ctx, owner.ID)
		if err != nil {
			t.Fatalf("failed to get owner: %v", err)
		}

		if retrieved.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", retrieved.Email)
		}
	})

	t.Run("Duplicate email", func(t *testing.T) {
		db := setupTestDB(t)
		createOwner(t, db, "test@example.com")

		err := NewOwnerRepository(db).Create(ctx, models.NewOwner("test@example.com", "Other"))
		if !errors.Is(err, shared.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("Delete makes owner unresolvable", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewOwnerRepository(db)
		owner := createOwner(t, db, "test@example.com")

		ok, err := repo.Resolvable(ctx, owner.ID)
		if err != nil || !ok {
			t.Fatalf("owner should resolve before delete: %v %v", ok, err)
		}

		if err := repo.Delete(ctx, owner.ID); err != nil {
			t.Fatalf("failed to delete owner: %v", err)
		}

		ok, err = repo.Resolvable(ctx, owner.ID)
		if err != nil || ok {
			t.Errorf("owner should not resolve after delete: %v %v", ok, err)
		}

		if err := repo.Delete(ctx, owner.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("second delete should be ErrNotFound, got %v", err)
		}
	})

	t.Run("List by email", func(t *testing.T) {
		db := setupTestDB(t)
		createOwner(t, db, "a@example.com")
		createOwner(t, db, "b@example.com")

		all, err := NewOwnerRepository(db).List(ctx, nil)
		if err != nil {
			t.Fatalf("failed to list owners: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 owners, got %d", len(all))
		}

		one, err := NewOwnerRepository(db).List(ctx, map[string]any{"email": "b@example.com"})
		if err != nil {
			t.Fatalf("failed to list owners: %v", err)
		}
		if len(one) != 1 || one[0].Email != "b@example.com" {
			t.Errorf("unexpected filter result %v", one)
		}
	})
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	owner := createOwner(t, db, "test@example.com")
	repo := NewCredentialRepository(db)

	if _, err := repo.Get(ctx, owner.ID); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	if err := repo.Save(ctx, &models.Credential{OwnerID: owner.ID, RefreshToken: []byte{1, 2, 3}, Scopes: "playlist-modify-private"}); err != nil {
		t.Fatalf("failed to save credential: %v", err)
	}

	if err := repo.MarkRevoked(ctx, owner.ID, time.Now()); err != nil {
		t.Fatalf("failed to revoke credential: %v", err)
	}

	cred, err := repo.Get(ctx, owner.ID)
	if err != nil {
		t.Fatalf("failed to get credential: %v", err)
	}
	if !cred.Revoked() {
		t.Error("credential should be revoked")
	}

	if err := repo.Save(ctx, &models.Credential{OwnerID: owner.ID, RefreshToken: []byte{4, 5, 6}}); err != nil {
		t.Fatalf("failed to replace credential: %v", err)
	}

	cred, err = repo.Get(ctx, owner.ID)
	if err != nil {
		t.Fatalf("failed to get credential: %v", err)
	}
	if cred.Revoked() {
		t.Error("saving a new credential should clear revocation")
	}
	if string(cred.RefreshToken) != string([]byte{4, 5, 6}) {
		t.Errorf("unexpected stored token %v", cred.RefreshToken)
	}
}

func TestScheduleRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create & Get round trips json columns", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)

		s := &models.Schedule{
			OwnerID:       owner.ID,
			JobType:       models.JobRaid,
			ScheduleType:  models.ScheduleCron,
			ScheduleValue: "0 6 * * *",
			Enabled:       true,
			TargetRefs:    models.TargetRefs{PlaylistID: "dest", SourceIDs: []string{"s1", "s2"}},
			Params:        models.JobParams{MaxPerRun: 5, Filters: &models.AudioFilters{MinEnergy: 0.4}},
		}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("failed to create schedule: %v", err)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get schedule: %v", err)
		}

		if len(got.TargetRefs.SourceIDs) != 2 || got.Params.MaxPerRun != 5 || got.Params.Filters == nil || got.Params.Filters.MinEnergy != 0.4 {
			t.Errorf("json columns did not round trip: %+v %+v", got.TargetRefs, got.Params)
		}
		if !got.Enabled {
			t.Error("expected schedule to be enabled")
		}
	})

	t.Run("Create rejects invalid shape", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")

		s := &models.Schedule{OwnerID: owner.ID, JobType: models.JobRotate, ScheduleType: models.ScheduleInterval, ScheduleValue: "daily"}
		if err := NewScheduleRepository(db).Create(ctx, s); !shared.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("ListDue", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)

		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)

		due := createShuffleSchedule(t, db, owner.ID, &past)
		createShuffleSchedule(t, db, owner.ID, &future)
		disabled := createShuffleSchedule(t, db, owner.ID, &past)

		if err := repo.SetEnabled(ctx, disabled.ID, false, nil); err != nil {
			t.Fatalf("failed to disable schedule: %v", err)
		}

		list, err := repo.ListDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("failed to list due schedules: %v", err)
		}
		if len(list) != 1 || list[0].ID != due.ID {
			t.Fatalf("expected only %s to be due, got %v", due.ID, list)
		}
	})

	t.Run("Claim excludes other holders until expiry", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)

		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		s := createShuffleSchedule(t, db, owner.ID, &past)

		ok, err := repo.Claim(ctx, s.ID, "node-a", now, time.Minute)
		if err != nil || !ok {
			t.Fatalf("first claim should succeed: %v %v", ok, err)
		}

		ok, err = repo.Claim(ctx, s.ID, "node-b", now, time.Minute)
		if err != nil || ok {
			t.Fatalf("second claim should fail: %v %v", ok, err)
		}

		list, err := repo.ListDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("failed to list due schedules: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("claimed schedule should not be listed as due, got %d", len(list))
		}

		ok, err = repo.Claim(ctx, s.ID, "node-b", now.Add(2*time.Minute), time.Minute)
		if err != nil || !ok {
			t.Fatalf("claim after expiry should succeed: %v %v", ok, err)
		}

		if err := repo.Release(ctx, s.ID, "node-a"); err != nil {
			t.Fatalf("release by stale holder failed: %v", err)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get schedule: %v", err)
		}
		if got.ClaimedBy != "node-b" {
			t.Errorf("stale holder must not release another claim, claimed_by = %q", got.ClaimedBy)
		}
	})

	t.Run("RecordRun and auto pause bookkeeping", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)
		s := createShuffleSchedule(t, db, owner.ID, nil)

		started := time.Now().UTC().Add(-time.Second)
		next := started.Add(24 * time.Hour)

		for i := 1; i <= 2; i++ {
			streak, err := repo.RecordRun(ctx, s.ID, started, next, RunOutcome{AuthExpired: true})
			if err != nil {
				t.Fatalf("failed to record run: %v", err)
			}
			if streak != i {
				t.Errorf("expected auth streak %d, got %d", i, streak)
			}
		}

		if err := repo.Pause(ctx, s.ID, models.PausedAuthExpired); err != nil {
			t.Fatalf("failed to pause: %v", err)
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get schedule: %v", err)
		}
		if got.Enabled || got.PausedReason != models.PausedAuthExpired || got.RunCount != 2 {
			t.Errorf("unexpected schedule state after pause: %+v", got)
		}
		if got.LastRunAt == nil || !got.LastRunAt.Equal(started) {
			t.Errorf("last_run_at = %v, want %v", got.LastRunAt, started)
		}

		if err := repo.SetEnabled(ctx, s.ID, true, &next); err != nil {
			t.Fatalf("failed to enable: %v", err)
		}

		got, err = repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get schedule: %v", err)
		}
		if !got.Enabled || got.PausedReason != "" || got.ConsecutiveFailureCount != 0 || got.ConsecutiveAuthFailures != 0 {
			t.Errorf("enabling should clear pause state: %+v", got)
		}

		streak, err := repo.RecordRun(ctx, s.ID, started, next, RunOutcome{Succeeded: true})
		if err != nil || streak != 0 {
			t.Errorf("success should leave the auth streak at zero: %d %v", streak, err)
		}
	})

	t.Run("RecordRun keeps auth streak separate from failures", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)
		s := createShuffleSchedule(t, db, owner.ID, nil)

		started := time.Now().UTC().Add(-time.Second)
		next := started.Add(24 * time.Hour)

		outcomes := []struct {
			outcome    RunOutcome
			wantStreak int
		}{
			{RunOutcome{}, 0},
			{RunOutcome{}, 0},
			{RunOutcome{AuthExpired: true}, 1},
			{RunOutcome{AuthExpired: true}, 2},
			{RunOutcome{}, 0},
			{RunOutcome{AuthExpired: true}, 1},
		}

		for i, o := range outcomes {
			streak, err := repo.RecordRun(ctx, s.ID, started, next, o.outcome)
			if err != nil {
				t.Fatalf("run %d: failed to record run: %v", i, err)
			}
			if streak != o.wantStreak {
				t.Errorf("run %d: auth streak = %d, want %d", i, streak, o.wantStreak)
			}
		}

		got, err := repo.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to get schedule: %v", err)
		}
		if got.ConsecutiveFailureCount != 6 || got.ConsecutiveAuthFailures != 1 {
			t.Errorf("failures = %d, auth failures = %d, want 6 and 1", got.ConsecutiveFailureCount, got.ConsecutiveAuthFailures)
		}
	})

	t.Run("Delete hides schedule", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		repo := NewScheduleRepository(db)
		s := createShuffleSchedule(t, db, owner.ID, nil)

		if err := repo.Delete(ctx, s.ID); err != nil {
			t.Fatalf("failed to delete schedule: %v", err)
		}
		if _, err := repo.Get(ctx, s.ID); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestExecutionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("one running execution per schedule", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		s := createShuffleSchedule(t, db, owner.ID, nil)
		repo := NewExecutionRepository(db)

		first, created, err := repo.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID})
		if err != nil || !created {
			t.Fatalf("first Begin should create: %v %v", created, err)
		}

		second, created, err := repo.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID})
		if err != nil {
			t.Fatalf("second Begin failed: %v", err)
		}
		if created {
			t.Fatal("second Begin must not create a new running record")
		}
		if second.ID != first.ID {
			t.Errorf("expected existing execution %s, got %s", first.ID, second.ID)
		}

		list, err := repo.ListBySchedule(ctx, s.ID, 0)
		if err != nil {
			t.Fatalf("failed to list executions: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 execution, got %d", len(list))
		}
	})

	t.Run("Finalize is write once", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		s := createShuffleSchedule(t, db, owner.ID, nil)
		repo := NewExecutionRepository(db)

		exec, _, err := repo.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID})
		if err != nil {
			t.Fatalf("failed to begin: %v", err)
		}

		exec.Status = models.StatusSuccess
		exec.Result = models.ResultSummary{TracksMoved: 7}
		if err := repo.Finalize(ctx, exec); err != nil {
			t.Fatalf("failed to finalize: %v", err)
		}

		exec.Status = models.StatusFailed
		if err := repo.Finalize(ctx, exec); !errors.Is(err, shared.ErrImmutable) {
			t.Errorf("expected ErrImmutable, got %v", err)
		}

		got, err := repo.Get(ctx, exec.ID)
		if err != nil {
			t.Fatalf("failed to get execution: %v", err)
		}
		if got.Status != models.StatusSuccess || got.Result.TracksMoved != 7 || got.FinishedAt == nil {
			t.Errorf("unexpected stored execution %+v", got)
		}

		if _, created, err := repo.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID}); err != nil || !created {
			t.Errorf("a new run should start once the previous finished: %v %v", created, err)
		}
	})

	t.Run("Record and ListStuck", func(t *testing.T) {
		db := setupTestDB(t)
		owner := createOwner(t, db, "test@example.com")
		s := createShuffleSchedule(t, db, owner.ID, nil)
		repo := NewExecutionRepository(db)

		if err := repo.Record(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID, Status: models.StatusRunning}); err == nil {
			t.Error("Record must reject non-terminal executions")
		}

		skipped := &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID, Status: models.StatusSkipped, ErrorKind: models.ErrorKindTargetBusy}
		if err := repo.Record(ctx, skipped); err != nil {
			t.Fatalf("failed to record skip: %v", err)
		}

		old := time.Now().UTC().Add(-time.Hour)
		if _, _, err := repo.Begin(ctx, &models.JobExecution{ScheduleID: s.ID, OwnerID: owner.ID, StartedAt: old}); err != nil {
			t.Fatalf("failed to begin: %v", err)
		}

		stuck, err := repo.ListStuck(ctx, time.Now().Add(-30*time.Minute))
		if err != nil {
			t.Fatalf("failed to list stuck: %v", err)
		}
		if len(stuck) != 1 || stuck[0].Status != models.StatusRunning {
			t.Errorf("expected one stuck running execution, got %v", stuck)
		}
	})
}

func TestPairRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	owner := createOwner(t, db, "test@example.com")
	repo := NewPairRepository(db)

	pair := models.NewPlaylistPair(owner.ID, "prod", "arch", models.RotationPolicy{RetainNewest: 50, ReplenishPlaylistRef: "pool", ReplenishCount: 5})
	if err := repo.Create(ctx, pair); err != nil {
		t.Fatalf("failed to create pair: %v", err)
	}

	got, err := repo.Get(ctx, pair.ID)
	if err != nil {
		t.Fatalf("failed to get pair: %v", err)
	}
	if got.Policy.RetainNewest != 50 || got.Policy.ReplenishPlaylistRef != "pool" {
		t.Errorf("policy did not round trip: %+v", got.Policy)
	}

	same := models.NewPlaylistPair(owner.ID, "prod", "prod", models.RotationPolicy{RetainNewest: 1})
	if err := repo.Create(ctx, same); !shared.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	list, err := repo.List(ctx, map[string]any{"owner_id": owner.ID})
	if err != nil || len(list) != 1 {
		t.Errorf("expected 1 pair, got %d (%v)", len(list), err)
	}

	if err := repo.Delete(ctx, pair.ID); err != nil {
		t.Fatalf("failed to delete pair: %v", err)
	}
	if _, err := repo.Get(ctx, pair.ID); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSourceRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	owner := createOwner(t, db, "test@example.com")
	repo := NewSourceRepository(db)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i, ref := range []string{"first", "second", "third"} {
		src := models.NewUpstreamSource(owner.ID, models.SourcePlaylist, ref)
		src.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, src); err != nil {
			t.Fatalf("failed to create source: %v", err)
		}
		ids = append(ids, src.ID)
	}

	if err := repo.AdvanceSnapshot(ctx, ids[0], []string{"a", "b"}, base.Add(10*time.Minute)); err != nil {
		t.Fatalf("failed to advance snapshot: %v", err)
	}
	if err := repo.AdvanceSnapshot(ctx, ids[2], []string{"c"}, base.Add(5*time.Minute)); err != nil {
		t.Fatalf("failed to advance snapshot: %v", err)
	}

	sources, err := repo.GetMany(ctx, ids)
	if err != nil {
		t.Fatalf("failed to get sources: %v", err)
	}

	var order []string
	for _, s := range sources {
		order = append(order, s.SourceRef)
	}
	want := []string{"second", "third", "first"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("discovery order = %v, want %v", order, want)
		}
	}

	if len(sources[2].LastSnapshot) != 2 {
		t.Errorf("snapshot did not round trip: %v", sources[2].LastSnapshot)
	}

	if err := repo.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("failed to delete source: %v", err)
	}
	sources, err = repo.GetMany(ctx, ids)
	if err != nil || len(sources) != 2 {
		t.Errorf("deleted sources should be excluded, got %d (%v)", len(sources), err)
	}
}

func TestLockRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLockRepository(db)
	now := time.Now().UTC()

	ok, err := repo.Acquire(ctx, []string{"prod", "arch"}, "exec-1", now, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: %v %v", ok, err)
	}

	ok, err = repo.Acquire(ctx, []string{"arch", "other"}, "exec-2", now, time.Minute)
	if err != nil || ok {
		t.Fatalf("overlapping acquire should fail: %v %v", ok, err)
	}

	holder, err := repo.Holder(ctx, "other", now)
	if err != nil || holder != "" {
		t.Errorf("failed acquire must not keep partial locks, holder = %q (%v)", holder, err)
	}

	ok, err = repo.Acquire(ctx, []string{"prod"}, "exec-2", now.Add(2*time.Minute), time.Minute)
	if err != nil || !ok {
		t.Errorf("expired lock should be taken over: %v %v", ok, err)
	}

	if err := repo.Release(ctx, []string{"prod", "arch"}, "exec-1"); err != nil {
		t.Fatalf("failed to release: %v", err)
	}

	holder, err = repo.Holder(ctx, "prod", now.Add(2*time.Minute))
	if err != nil || holder != "exec-2" {
		t.Errorf("release must only drop the caller's locks, holder = %q (%v)", holder, err)
	}
}
