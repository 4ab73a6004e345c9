package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/cadence/internal/formatter"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/scheduler"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ScheduleCreate validates and stores a new schedule.
func (r *Runner) ScheduleCreate(ctx context.Context, cmd *cli.Command) error {
	scheduleType, value, err := triggerFromFlags(cmd)
	if err != nil {
		return err
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	spec := scheduler.ScheduleSpec{
		OwnerID:       cmd.String("owner"),
		JobType:       models.JobType(cmd.String("job")),
		ScheduleType:  scheduleType,
		ScheduleValue: value,
		TargetRefs: models.TargetRefs{
			PlaylistID: cmd.String("playlist"),
			SourceIDs:  cmd.StringSlice("source"),
			PairID:     cmd.String("pair"),
		},
		Params: models.JobParams{
			Algorithm: cmd.String("algorithm"),
			MaxPerRun: cmd.Int("max-per-run"),
			Filters:   filtersFromFlags(cmd),
		},
		Disabled: cmd.Bool("disabled"),
	}

	sched, err := svc.CreateSchedule(ctx, spec)
	if err != nil {
		return err
	}

	r.writePlain("✓ Schedule created: %s\n", sched.ID)
	if sched.NextRunAt != nil {
		r.writePlain("  Next run: %s\n", sched.NextRunAt.UTC().Format("2006-01-02 15:04:05Z"))
	} else {
		r.writePlain("  Disabled; enable with: cadence schedule toggle %s --enabled\n", sched.ID)
	}
	return nil
}

func triggerFromFlags(cmd *cli.Command) (models.ScheduleType, string, error) {
	interval, cron := cmd.String("interval"), cmd.String("cron")
	switch {
	case interval != "" && cron != "":
		return "", "", fmt.Errorf("%w: cannot specify both --interval and --cron", shared.ErrInvalidArgument)
	case interval != "":
		return models.ScheduleInterval, interval, nil
	case cron != "":
		return models.ScheduleCron, cron, nil
	}
	return "", "", fmt.Errorf("%w: either --interval or --cron must be provided", shared.ErrMissingArgument)
}

// filtersFromFlags returns nil unless a filter flag was given.
func filtersFromFlags(cmd *cli.Command) *models.AudioFilters {
	set := false
	for _, name := range []string{"min-energy", "max-energy", "min-tempo", "max-tempo", "exclude-explicit"} {
		if cmd.IsSet(name) {
			set = true
			break
		}
	}
	if !set {
		return nil
	}

	return &models.AudioFilters{
		MinEnergy:       cmd.Float64("min-energy"),
		MaxEnergy:       cmd.Float64("max-energy"),
		MinTempo:        cmd.Float64("min-tempo"),
		MaxTempo:        cmd.Float64("max-tempo"),
		ExcludeExplicit: cmd.Bool("exclude-explicit"),
	}
}

// ScheduleList lists schedules in the requested format.
func (r *Runner) ScheduleList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	scheds, err := svc.ListSchedules(ctx, cmd.String("owner"))
	if err != nil {
		return err
	}

	data, err := formatter.Schedules(scheds, format)
	if err != nil {
		return err
	}
	return r.emit(data, cmd.String("output"), fmt.Sprintf("%d schedules", len(scheds)))
}

// ScheduleShow prints one schedule.
func (r *Runner) ScheduleShow(ctx context.Context, cmd *cli.Command) error {
	_, sched, err := r.lookupSchedule(ctx, cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(sched, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Schedule %s", sched.ID))
	r.writePlain("Owner: %s\n", sched.OwnerID)
	r.writePlain("Job: %s\n", sched.JobType)
	r.writePlain("Trigger: %s %s\n", sched.ScheduleType, sched.ScheduleValue)
	r.writePlain("Enabled: %t\n", sched.Enabled)
	if sched.PausedReason != "" {
		r.writePlain("Paused: %s\n", sched.PausedReason)
	}

	refs := sched.TargetRefs
	if refs.PlaylistID != "" {
		r.writePlain("Playlist: %s\n", refs.PlaylistID)
	}
	if len(refs.SourceIDs) > 0 {
		r.writePlain("Sources: %s\n", strings.Join(refs.SourceIDs, ", "))
	}
	if refs.PairID != "" {
		r.writePlain("Pair: %s\n", refs.PairID)
	}
	if sched.Params.Algorithm != "" {
		r.writePlain("Algorithm: %s\n", sched.Params.Algorithm)
	}
	if sched.Params.MaxPerRun > 0 {
		r.writePlain("Max per run: %d\n", sched.Params.MaxPerRun)
	}

	r.writePlain("Next run: %s\n", formatTime(sched.NextRunAt))
	r.writePlain("Last run: %s\n", formatTime(sched.LastRunAt))
	r.writePlain("Runs: %d\n", sched.RunCount)
	r.writePlain("Consecutive failures: %d (auth: %d)\n", sched.ConsecutiveFailureCount, sched.ConsecutiveAuthFailures)
	return nil
}

// ScheduleToggle enables or disables a schedule.
func (r *Runner) ScheduleToggle(ctx context.Context, cmd *cli.Command) error {
	svc, sched, err := r.lookupSchedule(ctx, cmd)
	if err != nil {
		return err
	}

	enabled := !sched.Enabled
	if cmd.IsSet("enabled") {
		enabled = cmd.Bool("enabled")
	}

	updated, err := svc.ToggleSchedule(ctx, sched.ID, enabled)
	if err != nil {
		return err
	}

	if updated.Enabled {
		return r.writePlain("✓ Schedule %s enabled, next run %s\n", updated.ID, formatTime(updated.NextRunAt))
	}
	return r.writePlain("✓ Schedule %s disabled\n", updated.ID)
}

// ScheduleDelete soft-deletes a schedule; its history is kept.
func (r *Runner) ScheduleDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: schedule id", shared.ErrMissingArgument)
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	if err := svc.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Schedule deleted: %s\n", id)
}

// ScheduleRun runs a schedule immediately, streaming progress until it finishes.
func (r *Runner) ScheduleRun(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: schedule id", shared.ErrMissingArgument)
	}
	useJSON := cmd.Bool("json")

	svc, err := r.management(true)
	if err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			if !useJSON {
				r.writePlain("→ %s\n", update.Message)
			}
		}
	}()

	exec, err := svc.RunNow(ctx, id, progress)
	close(progress)
	wg.Wait()

	if err != nil {
		return err
	}

	if useJSON {
		if err := r.writeJSON(exec, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else {
		r.writePlain("\n")
		r.output.Write(formatter.ExecutionDetail(exec))
	}

	if exec.Status == models.StatusFailed {
		return fmt.Errorf("execution %s failed (%s): %s", exec.ID, exec.ErrorKind, exec.ErrorMessage)
	}
	return nil
}

// ScheduleHistory prints a schedule's executions, newest first.
func (r *Runner) ScheduleHistory(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: schedule id", shared.ErrMissingArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	svc, err := r.management(false)
	if err != nil {
		return err
	}

	execs, err := svc.ListExecutions(ctx, id, cmd.Int("limit"))
	if err != nil {
		return err
	}

	data, err := formatter.Executions(execs, format)
	if err != nil {
		return err
	}
	return r.emit(data, cmd.String("output"), fmt.Sprintf("%d executions", len(execs)))
}

func (r *Runner) lookupSchedule(ctx context.Context, cmd *cli.Command) (*scheduler.Service, *models.Schedule, error) {
	id := cmd.StringArg("id")
	if id == "" {
		return nil, nil, fmt.Errorf("%w: schedule id", shared.ErrMissingArgument)
	}

	svc, err := r.management(false)
	if err != nil {
		return nil, nil, err
	}

	sched, err := svc.GetSchedule(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return svc, sched, nil
}

// emit writes rendered output to path, or to the runner's output when path is empty.
func (r *Runner) emit(data []byte, path, what string) error {
	if path == "" {
		if _, err := r.output.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := formatter.WriteExport(data, path); err != nil {
		return err
	}
	r.logger.Info("export written", "path", path)
	return r.writePlain("✓ Wrote %s to %s\n", what, path)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05Z")
}
