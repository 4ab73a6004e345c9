package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSchedulesFetched MsgKind = iota
	MsgHistoryFetched
	MsgScheduleToggled
	MsgProgressUpdate
	MsgRunComplete
)

type schedulesResult struct {
	schedules []*models.Schedule
	err       error
}

type historyResult struct {
	schedule   *models.Schedule
	executions []*models.JobExecution
	err        error
}

type toggleResult struct {
	schedule *models.Schedule
	err      error
}

type runResult struct {
	execution *models.JobExecution
	err       error
}

// schedulesFetchedMsg is the constructor for [MsgSchedulesFetched]
func schedulesFetchedMsg(schedules []*models.Schedule, err error) Msg {
	return Msg{kind: MsgSchedulesFetched, data: schedulesResult{schedules, err}}
}

// historyFetchedMsg is the constructor for [MsgHistoryFetched]
func historyFetchedMsg(schedule *models.Schedule, executions []*models.JobExecution, err error) Msg {
	return Msg{kind: MsgHistoryFetched, data: historyResult{schedule, executions, err}}
}

// scheduleToggledMsg is the constructor for [MsgScheduleToggled]
func scheduleToggledMsg(schedule *models.Schedule, err error) Msg {
	return Msg{kind: MsgScheduleToggled, data: toggleResult{schedule, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// runCompleteMsg is the constructor for [MsgRunComplete]
func runCompleteMsg(execution *models.JobExecution, err error) Msg {
	return Msg{kind: MsgRunComplete, data: runResult{execution, err}}
}
