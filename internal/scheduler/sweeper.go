package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/shared"
)

// Sweeper fails executions left running by a crashed or killed process.
type Sweeper struct {
	executions *repositories.ExecutionRepository
	logger     *log.Logger
	timeout    time.Duration
	grace      time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewSweeper creates a [Sweeper] that treats runs older than timeout+grace as stuck.
func NewSweeper(db *sql.DB, cfg shared.SchedulerConfig, logger *log.Logger) *Sweeper {
	interval := cfg.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		executions: repositories.NewExecutionRepository(db),
		logger:     logger,
		timeout:    cfg.ExecutionTimeout.Duration,
		grace:      cfg.SweepGrace.Duration,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the sweeper's time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep marks stuck executions failed with a Timeout kind and returns how many it changed.
//
// Schedule bookkeeping is left alone: a swept run does not count toward run_count.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-(s.timeout + s.grace))

	stuck, err := s.executions.ListStuck(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, exec := range stuck {
		exec.Status = models.StatusFailed
		exec.ErrorKind = models.ErrorKindTimeout
		exec.ErrorMessage = fmt.Sprintf("execution still running after %s; marked failed by sweeper", now.Sub(exec.StartedAt).Round(time.Second))
		exec.FinishedAt = &now

		if err := s.executions.Finalize(ctx, exec); err != nil {
			if errors.Is(err, shared.ErrImmutable) {
				continue
			}
			s.logger.Error("failed to sweep execution", "execution_id", exec.ID, "error", err)
			continue
		}

		s.logger.Warn("swept stuck execution", "execution_id", exec.ID, "schedule_id", exec.ScheduleID, "started_at", exec.StartedAt)
		swept++
	}

	return swept, nil
}

// Watch sweeps on every interval until ctx is done.
func (s *Sweeper) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
