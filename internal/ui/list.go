package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/cadence/internal/formatter"
	"github.com/desertthunder/cadence/internal/models"
)

var (
	_ list.Item = scheduleItem{}
	_ list.Item = executionItem{}
)

// scheduleItem wraps [models.Schedule] to implement [list.Item].
type scheduleItem struct {
	schedule *models.Schedule
}

func (i scheduleItem) FilterValue() string { return string(i.schedule.JobType) + " " + i.schedule.ID }
func (i scheduleItem) Title() string {
	s := i.schedule
	title := fmt.Sprintf("%s • %s %s", s.JobType, s.ScheduleType, s.ScheduleValue)
	if !s.Enabled {
		title += " (disabled)"
	}
	return title
}
func (i scheduleItem) Description() string {
	s := i.schedule
	next := "not scheduled"
	if s.NextRunAt != nil && s.Enabled {
		next = "next " + s.NextRunAt.UTC().Format("2006-01-02 15:04Z")
	}
	desc := fmt.Sprintf("%s • %s • %d runs", s.ID, next, s.RunCount)
	if s.PausedReason != "" {
		desc += " • paused: " + s.PausedReason
	}
	return desc
}

// executionItem wraps [models.JobExecution] to implement [list.Item].
type executionItem struct {
	execution *models.JobExecution
}

func (i executionItem) FilterValue() string { return string(i.execution.Status) }
func (i executionItem) Title() string {
	e := i.execution
	status := string(e.Status)
	if e.ErrorKind != models.ErrorKindNone {
		status += " (" + string(e.ErrorKind) + ")"
	}
	return fmt.Sprintf("%s • %s", e.StartedAt.UTC().Format("2006-01-02 15:04:05Z"), styles.statusStyle(e).Render(status))
}
func (i executionItem) Description() string {
	desc := string(i.execution.Trigger)
	if summary := formatter.Summarize(i.execution); summary != "" {
		desc = fmt.Sprintf("%s • %s", desc, summary)
	}
	return desc
}
