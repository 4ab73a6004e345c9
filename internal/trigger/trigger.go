// Package trigger decides when a schedule is due and computes its next run time.
//
// Interval schedules use a fixed enum of durations. Cron schedules accept five or six
// fields (seconds optional) and descriptors such as @daily; all evaluation is in UTC.
package trigger

import (
	"strings"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Resolver evaluates interval and cron triggers.
type Resolver struct{}

// NewResolver returns a [Resolver].
func NewResolver() *Resolver {
	return &Resolver{}
}

// Validate checks a schedule value for the given type.
func (r *Resolver) Validate(scheduleType models.ScheduleType, value string) error {
	switch scheduleType {
	case models.ScheduleInterval:
		if _, ok := models.Interval(value).Duration(); !ok {
			return shared.NewValidationError("schedule_value", "unknown interval %q (expected one of %s)", value, intervalNames())
		}
		return nil
	case models.ScheduleCron:
		_, err := parseCron(value)
		return err
	default:
		return shared.NewValidationError("schedule_type", "unknown schedule type %q", scheduleType)
	}
}

// NextRunAfter returns the first run time strictly after now.
//
// Interval schedules follow last_run + delta. When that moment has already passed the
// missed runs collapse into one and the next run is now + delta.
func (r *Resolver) NextRunAfter(s *models.Schedule, now time.Time) (time.Time, error) {
	now = now.UTC()

	switch s.ScheduleType {
	case models.ScheduleInterval:
		delta, ok := models.Interval(s.ScheduleValue).Duration()
		if !ok {
			return time.Time{}, shared.NewValidationError("schedule_value", "unknown interval %q", s.ScheduleValue)
		}
		if s.LastRunAt != nil {
			if next := s.LastRunAt.UTC().Add(delta); next.After(now) {
				return next, nil
			}
		}
		return now.Add(delta), nil
	case models.ScheduleCron:
		sched, err := parseCron(s.ScheduleValue)
		if err != nil {
			return time.Time{}, err
		}
		next := sched.Next(now)
		if next.IsZero() {
			return time.Time{}, shared.NewValidationError("schedule_value", "cron expression %q never fires", s.ScheduleValue)
		}
		return next, nil
	default:
		return time.Time{}, shared.NewValidationError("schedule_type", "unknown schedule type %q", s.ScheduleType)
	}
}

// IsDue reports whether an enabled schedule should run at now.
//
// An interval schedule that never ran is due immediately. A cron schedule without a
// stored next run is due once its first fire time after creation has passed.
func (r *Resolver) IsDue(s *models.Schedule, now time.Time) bool {
	if !s.Enabled || s.DeletedAt != nil {
		return false
	}
	now = now.UTC()

	if s.NextRunAt != nil {
		return !s.NextRunAt.After(now)
	}

	switch s.ScheduleType {
	case models.ScheduleInterval:
		if s.LastRunAt == nil {
			return true
		}
		delta, ok := models.Interval(s.ScheduleValue).Duration()
		return ok && !s.LastRunAt.Add(delta).After(now)
	case models.ScheduleCron:
		sched, err := parseCron(s.ScheduleValue)
		if err != nil {
			return false
		}
		from := s.CreatedAt
		if s.LastRunAt != nil {
			from = *s.LastRunAt
		}
		next := sched.Next(from.UTC())
		return !next.IsZero() && !next.After(now)
	}
	return false
}

// InitialNextRun is the next_run_at stored when a schedule is created or re-enabled.
func (r *Resolver) InitialNextRun(s *models.Schedule, now time.Time) (time.Time, error) {
	if s.ScheduleType == models.ScheduleInterval && s.LastRunAt == nil {
		return now.UTC(), nil
	}
	return r.NextRunAfter(s, now)
}

func parseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, shared.NewValidationError("schedule_value", "cron expression is empty")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, shared.NewValidationError("schedule_value", "time zones are not supported; cron expressions are evaluated in UTC")
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, shared.NewValidationError("schedule_value", "invalid cron expression %q: %v", expr, err)
	}
	// The parser defaults to the local zone.
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = time.UTC
	}
	return sched, nil
}

func intervalNames() string {
	names := make([]string, len(models.Intervals))
	for i, iv := range models.Intervals {
		names[i] = string(iv)
	}
	return strings.Join(names, ", ")
}
