package models

import (
	"sort"
	"time"
)

// ExecutionStatus is the lifecycle state of a [JobExecution].
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusSkipped ExecutionStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// ErrorKind classifies why an execution failed, was skipped, or succeeded with warnings.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindAuthExpired       ErrorKind = "AuthExpired"
	ErrorKindTransient         ErrorKind = "TransientProviderError"
	ErrorKindTimeout           ErrorKind = "Timeout"
	ErrorKindFatal             ErrorKind = "FatalExecutionError"
	ErrorKindPartialFailure    ErrorKind = "PartialFailure"
	ErrorKindTargetBusy        ErrorKind = "TargetBusy"
	ErrorKindScheduleDisabled  ErrorKind = "ScheduleDisabled"
	ErrorKindOwnerUnresolvable ErrorKind = "OwnerUnresolvable"
)

// ExecutionTrigger records what started an execution.
type ExecutionTrigger string

const (
	TriggerScheduled ExecutionTrigger = "scheduled"
	TriggerManual    ExecutionTrigger = "manual"
)

// ResultSummary is the strategy-specific outcome stored with an execution.
type ResultSummary struct {
	TracksMoved     int               `json:"tracks_moved,omitempty"`
	Added           []string          `json:"added,omitempty"`
	Archived        []string          `json:"archived,omitempty"`
	Replenished     []string          `json:"replenished,omitempty"`
	PerSourceErrors map[string]string `json:"per_source_errors,omitempty"`
	PerTrackErrors  map[string]string `json:"per_track_errors,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// HasErrors reports whether any sub-unit failed.
func (r ResultSummary) HasErrors() bool {
	return len(r.PerSourceErrors) > 0 || len(r.PerTrackErrors) > 0 || len(r.Warnings) > 0
}

// Merge folds other into r, used when one execution runs several strategies.
func (r *ResultSummary) Merge(other ResultSummary) {
	r.TracksMoved += other.TracksMoved
	r.Added = append(r.Added, other.Added...)
	r.Archived = append(r.Archived, other.Archived...)
	r.Replenished = append(r.Replenished, other.Replenished...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	for k, v := range other.PerSourceErrors {
		if r.PerSourceErrors == nil {
			r.PerSourceErrors = map[string]string{}
		}
		r.PerSourceErrors[k] = v
	}
	for k, v := range other.PerTrackErrors {
		if r.PerTrackErrors == nil {
			r.PerTrackErrors = map[string]string{}
		}
		r.PerTrackErrors[k] = v
	}
}

// ErrorSummary flattens sub-unit errors into sorted "key: message" lines.
func (r ResultSummary) ErrorSummary() []string {
	var lines []string
	for k, v := range r.PerSourceErrors {
		lines = append(lines, "source "+k+": "+v)
	}
	for k, v := range r.PerTrackErrors {
		lines = append(lines, "track "+k+": "+v)
	}
	sort.Strings(lines)
	return append(lines, r.Warnings...)
}

// JobExecution is one durable attempt record for a schedule.
//
// Once Status leaves running the record is immutable; FinishedAt is set iff Status is terminal.
type JobExecution struct {
	ID           string           `json:"id"`
	ScheduleID   string           `json:"schedule_id"`
	OwnerID      string           `json:"owner_id"`
	Trigger      ExecutionTrigger `json:"trigger"`
	Status       ExecutionStatus  `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Result       ResultSummary    `json:"result_summary"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Duration returns how long a finished execution ran, or zero while running.
func (e *JobExecution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
