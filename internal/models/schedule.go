package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/cadence/internal/shared"
)

// JobType selects the strategy a schedule runs.
type JobType string

const (
	JobShuffle        JobType = "shuffle"
	JobRaid           JobType = "raid"
	JobRaidAndShuffle JobType = "raid_and_shuffle"
	JobRotate         JobType = "rotate"
)

// JobTypes lists every supported [JobType].
var JobTypes = []JobType{JobShuffle, JobRaid, JobRaidAndShuffle, JobRotate}

func (t JobType) Valid() bool {
	switch t {
	case JobShuffle, JobRaid, JobRaidAndShuffle, JobRotate:
		return true
	}
	return false
}

// ScheduleType selects how schedule_value is interpreted.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

func (t ScheduleType) Valid() bool {
	return t == ScheduleInterval || t == ScheduleCron
}

// Interval is one of the fixed interval schedule values.
type Interval string

const (
	Every6h  Interval = "every_6h"
	Every12h Interval = "every_12h"
	Daily    Interval = "daily"
	Every3d  Interval = "every_3d"
	Weekly   Interval = "weekly"
)

var intervals = map[Interval]time.Duration{
	Every6h:  6 * time.Hour,
	Every12h: 12 * time.Hour,
	Daily:    24 * time.Hour,
	Every3d:  72 * time.Hour,
	Weekly:   7 * 24 * time.Hour,
}

// Intervals lists the accepted interval values, shortest first.
var Intervals = []Interval{Every6h, Every12h, Daily, Every3d, Weekly}

// Duration returns the interval length, or false for an unknown value.
func (i Interval) Duration() (time.Duration, bool) {
	d, ok := intervals[i]
	return d, ok
}

// TargetRefs names the entities a job acts on. Which fields are set depends on the job type.
type TargetRefs struct {
	PlaylistID string   `json:"playlist_id,omitempty"`
	SourceIDs  []string `json:"source_ids,omitempty"`
	PairID     string   `json:"pair_id,omitempty"`
}

// AudioFilters are optional thresholds applied to raid candidates.
//
// A zero Max bound is treated as unset.
type AudioFilters struct {
	MinEnergy       float64 `json:"min_energy,omitempty"`
	MaxEnergy       float64 `json:"max_energy,omitempty"`
	MinDanceability float64 `json:"min_danceability,omitempty"`
	MaxDanceability float64 `json:"max_danceability,omitempty"`
	MinValence      float64 `json:"min_valence,omitempty"`
	MaxValence      float64 `json:"max_valence,omitempty"`
	MinTempo        float64 `json:"min_tempo,omitempty"`
	MaxTempo        float64 `json:"max_tempo,omitempty"`
	ExcludeExplicit bool    `json:"exclude_explicit,omitempty"`
}

// NeedsFeatures reports whether any audio-feature threshold is set.
func (f *AudioFilters) NeedsFeatures() bool {
	if f == nil {
		return false
	}
	return f.MinEnergy > 0 || f.MaxEnergy > 0 ||
		f.MinDanceability > 0 || f.MaxDanceability > 0 ||
		f.MinValence > 0 || f.MaxValence > 0 ||
		f.MinTempo > 0 || f.MaxTempo > 0
}

// Accept reports whether a track and its features pass every threshold.
// features may be nil when [AudioFilters.NeedsFeatures] is false.
func (f *AudioFilters) Accept(t Track, features *AudioFeatures) bool {
	if f == nil {
		return true
	}
	if f.ExcludeExplicit && t.Explicit {
		return false
	}
	if !f.NeedsFeatures() {
		return true
	}
	if features == nil {
		return false
	}
	return within(features.Energy, f.MinEnergy, f.MaxEnergy) &&
		within(features.Danceability, f.MinDanceability, f.MaxDanceability) &&
		within(features.Valence, f.MinValence, f.MaxValence) &&
		within(features.Tempo, f.MinTempo, f.MaxTempo)
}

func within(v, lo, hi float64) bool {
	if v < lo {
		return false
	}
	return hi == 0 || v <= hi
}

func (f *AudioFilters) validate() error {
	if f == nil {
		return nil
	}
	unit := []struct {
		name   string
		lo, hi float64
	}{
		{"energy", f.MinEnergy, f.MaxEnergy},
		{"danceability", f.MinDanceability, f.MaxDanceability},
		{"valence", f.MinValence, f.MaxValence},
	}
	for _, u := range unit {
		if u.lo < 0 || u.lo > 1 || u.hi < 0 || u.hi > 1 {
			return shared.NewValidationError("params.filters", "%s bounds must be within [0, 1]", u.name)
		}
		if u.hi > 0 && u.lo > u.hi {
			return shared.NewValidationError("params.filters", "min_%s is greater than max_%s", u.name, u.name)
		}
	}
	if f.MinTempo < 0 || f.MaxTempo < 0 {
		return shared.NewValidationError("params.filters", "tempo bounds must not be negative")
	}
	if f.MaxTempo > 0 && f.MinTempo > f.MaxTempo {
		return shared.NewValidationError("params.filters", "min_tempo is greater than max_tempo")
	}
	return nil
}

// JobParams holds strategy parameters. Which fields apply depends on the job type.
type JobParams struct {
	Algorithm       string         `json:"algorithm,omitempty"`
	AlgorithmParams map[string]any `json:"algorithm_params,omitempty"`
	MaxPerRun       int            `json:"max_per_run,omitempty"`
	Filters         *AudioFilters  `json:"filters,omitempty"`
}

// PausedAuthExpired is the paused_reason set when a schedule is disabled after repeated auth failures.
const PausedAuthExpired = "auth_expired"

// Schedule is a persisted recurring job configuration.
//
// LastRunAt, NextRunAt, RunCount and the two failure counters are only changed by the executor.
// ConsecutiveAuthFailures counts only back-to-back AuthExpired runs and drives auto-pause.
type Schedule struct {
	ID                      string       `json:"id"`
	OwnerID                 string       `json:"owner_id"`
	JobType                 JobType      `json:"job_type"`
	ScheduleType            ScheduleType `json:"schedule_type"`
	ScheduleValue           string       `json:"schedule_value"`
	Enabled                 bool         `json:"enabled"`
	TargetRefs              TargetRefs   `json:"target_refs"`
	Params                  JobParams    `json:"params"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
	LastRunAt               *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt               *time.Time   `json:"next_run_at,omitempty"`
	RunCount                int          `json:"run_count"`
	ConsecutiveFailureCount int          `json:"consecutive_failure_count"`
	ConsecutiveAuthFailures int          `json:"consecutive_auth_failures"`
	PausedReason            string       `json:"paused_reason,omitempty"`
	ClaimedBy               string       `json:"-"`
	ClaimedUntil            *time.Time   `json:"-"`
	DeletedAt               *time.Time   `json:"-"`
}

// Validate checks that the trigger kind, target refs and params are consistent with the job type.
//
// The schedule value itself is checked by the trigger resolver.
func (s *Schedule) Validate() error {
	if s.OwnerID == "" {
		return shared.NewValidationError("owner_id", "is required")
	}
	if !s.JobType.Valid() {
		return shared.NewValidationError("job_type", "unknown job type %q", s.JobType)
	}
	if !s.ScheduleType.Valid() {
		return shared.NewValidationError("schedule_type", "unknown schedule type %q", s.ScheduleType)
	}
	if s.ScheduleValue == "" {
		return shared.NewValidationError("schedule_value", "is required")
	}

	refs, params := s.TargetRefs, s.Params
	switch s.JobType {
	case JobShuffle:
		if refs.PlaylistID == "" {
			return shared.NewValidationError("target_refs.playlist_id", "is required for %s", s.JobType)
		}
		if len(refs.SourceIDs) > 0 || refs.PairID != "" {
			return shared.NewValidationError("target_refs", "%s only accepts playlist_id", s.JobType)
		}
		if params.Algorithm == "" {
			return shared.NewValidationError("params.algorithm", "is required for %s", s.JobType)
		}
		if params.MaxPerRun != 0 || params.Filters != nil {
			return shared.NewValidationError("params", "%s does not accept raid parameters", s.JobType)
		}
	case JobRaid, JobRaidAndShuffle:
		if refs.PlaylistID == "" {
			return shared.NewValidationError("target_refs.playlist_id", "destination is required for %s", s.JobType)
		}
		if len(refs.SourceIDs) == 0 {
			return shared.NewValidationError("target_refs.source_ids", "at least one source is required for %s", s.JobType)
		}
		if refs.PairID != "" {
			return shared.NewValidationError("target_refs.pair_id", "not accepted for %s", s.JobType)
		}
		seen := make(map[string]struct{}, len(refs.SourceIDs))
		for _, id := range refs.SourceIDs {
			if id == "" {
				return shared.NewValidationError("target_refs.source_ids", "contains an empty id")
			}
			if _, ok := seen[id]; ok {
				return shared.NewValidationError("target_refs.source_ids", "duplicate source %s", id)
			}
			seen[id] = struct{}{}
		}
		if params.MaxPerRun < 0 {
			return shared.NewValidationError("params.max_per_run", "must not be negative")
		}
		if err := params.Filters.validate(); err != nil {
			return err
		}
		if s.JobType == JobRaidAndShuffle && params.Algorithm == "" {
			return shared.NewValidationError("params.algorithm", "is required for %s", s.JobType)
		}
		if s.JobType == JobRaid && params.Algorithm != "" {
			return shared.NewValidationError("params.algorithm", "not accepted for %s", s.JobType)
		}
	case JobRotate:
		if refs.PairID == "" {
			return shared.NewValidationError("target_refs.pair_id", "is required for %s", s.JobType)
		}
		if refs.PlaylistID != "" || len(refs.SourceIDs) > 0 {
			return shared.NewValidationError("target_refs", "%s only accepts pair_id", s.JobType)
		}
		if params.Algorithm != "" || params.MaxPerRun != 0 || params.Filters != nil {
			return shared.NewValidationError("params", "%s does not accept parameters", s.JobType)
		}
	}
	return nil
}

func (s *Schedule) String() string {
	return fmt.Sprintf("%s %s (%s %s)", s.ID, s.JobType, s.ScheduleType, s.ScheduleValue)
}
