package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/tasks"
	"github.com/desertthunder/cadence/internal/trigger"
)

// Stats is a snapshot of engine activity since Start.
type Stats struct {
	Ticks      int64
	Dispatched int64
	Deferred   int64
	Active     int
	LastTickAt time.Time
}

// Engine polls for due schedules and hands them to the [tasks.Executor].
//
// One tick claims due rows, so several engines may share a database; per-owner
// and global slots bound how many executions run in this process.
type Engine struct {
	schedules *repositories.ScheduleRepository
	executor  *tasks.Executor
	resolver  *trigger.Resolver
	sweeper   *Sweeper
	logger    *log.Logger

	instanceID string
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	global     int
	perOwner   int
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runs   sync.WaitGroup

	mu     sync.Mutex
	active int
	owners map[string]int
	stats  Stats
}

// NewEngine creates an [Engine] with limits from cfg.
//
// An empty instance ID is replaced with a generated one.
func NewEngine(db *sql.DB, executor *tasks.Executor, cfg shared.SchedulerConfig, logger *log.Logger) *Engine {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = shared.GenerateID()
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}

	claimTTL := cfg.ClaimTTL.Duration
	if floor := executor.Timeout() + cfg.SweepGrace.Duration; claimTTL < floor {
		claimTTL = floor
	}

	return &Engine{
		schedules:  repositories.NewScheduleRepository(db),
		executor:   executor,
		resolver:   trigger.NewResolver(),
		sweeper:    NewSweeper(db, cfg, logger),
		logger:     shared.WithLogger(logger, "instance_id", instanceID),
		instanceID: instanceID,
		interval:   cfg.TickInterval.Duration,
		batchSize:  batch,
		claimTTL:   claimTTL,
		global:     max(cfg.GlobalConcurrency, 1),
		perOwner:   max(cfg.PerOwnerConcurrency, 1),
		now:        func() time.Time { return time.Now().UTC() },
		owners:     make(map[string]int),
	}
}

// WithClock replaces the time source of the engine and its sweeper.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.sweeper.WithClock(now)
	return e
}

// InstanceID is the holder name written to claimed schedules.
func (e *Engine) InstanceID() string { return e.instanceID }

// Start begins the tick loop and the stuck-run sweeper in the background.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.run()
	go func() {
		defer e.wg.Done()
		e.sweeper.Watch(e.ctx)
	}()

	e.logger.Info("scheduler started", "interval", e.interval, "global", e.global, "per_owner", e.perOwner)
}

// Stop cancels the loop and waits for in-flight executions to be recorded.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.runs.Wait()
	e.logger.Info("scheduler stopped")
}

// Wait blocks until every dispatched execution has returned.
func (e *Engine) Wait() { e.runs.Wait() }

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Active = e.active
	return s
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(e.ctx, e.now()); err != nil && e.ctx.Err() == nil {
				e.logger.Warn("tick failed", "error", err)
			}
		}
	}
}

// Tick dispatches every due schedule that can get a slot and a claim, returning how many were started.
//
// Executions run on ctx; call [Engine.Wait] to block until they finish.
func (e *Engine) Tick(ctx context.Context, now time.Time) (int, error) {
	e.mu.Lock()
	e.stats.Ticks++
	e.stats.LastTickAt = now
	e.mu.Unlock()

	due, err := e.schedules.ListDue(ctx, now, e.batchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, s := range due {
		if !e.resolver.IsDue(s, now) {
			continue
		}

		if !e.reserve(s.OwnerID) {
			e.mu.Lock()
			e.stats.Deferred++
			e.mu.Unlock()
			e.logger.Debug("no slot available, deferring", "schedule_id", s.ID, "owner_id", s.OwnerID)
			continue
		}

		claimed, err := e.schedules.Claim(ctx, s.ID, e.instanceID, now, e.claimTTL)
		if err != nil || !claimed {
			e.unreserve(s.OwnerID)
			if err != nil {
				e.logger.Warn("failed to claim schedule", "schedule_id", s.ID, "error", err)
			}
			continue
		}

		dispatched++
		e.runs.Add(1)
		go e.dispatch(ctx, s)
	}

	e.mu.Lock()
	e.stats.Dispatched += int64(dispatched)
	e.mu.Unlock()

	return dispatched, nil
}

func (e *Engine) dispatch(ctx context.Context, s *models.Schedule) {
	defer e.runs.Done()
	defer e.unreserve(s.OwnerID)
	defer func() {
		if err := e.schedules.Release(context.WithoutCancel(ctx), s.ID, e.instanceID); err != nil {
			e.logger.Warn("failed to release schedule claim", "schedule_id", s.ID, "error", err)
		}
	}()

	logger := shared.WithLogger(e.logger, "schedule_id", s.ID, "owner_id", s.OwnerID)

	exec, err := e.executor.Execute(ctx, s.ID, models.TriggerScheduled, nil)
	if err != nil {
		logger.Error("execution could not be recorded", "error", err)
		return
	}
	logger.Debug("execution returned", "execution_id", exec.ID, "status", exec.Status, "error_kind", exec.ErrorKind)
}

// reserve takes a global and a per-owner slot, or neither.
func (e *Engine) reserve(ownerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active >= e.global || e.owners[ownerID] >= e.perOwner {
		return false
	}
	e.active++
	e.owners[ownerID]++
	return true
}

func (e *Engine) unreserve(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active--
	e.owners[ownerID]--
	if e.owners[ownerID] <= 0 {
		delete(e.owners, ownerID)
	}
}
