package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cadence/internal/formatter"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/tasks"
)

// historyLimit caps the executions loaded into [HistoryView].
const historyLimit = 50

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ScheduleListView ViewState = iota
	HistoryView
	ConfirmView
	RunView
	ResultView
)

// Backend is the management surface the dashboard drives. [scheduler.Service] satisfies it.
type Backend interface {
	ListSchedules(ctx context.Context, ownerID string) ([]*models.Schedule, error)
	ListExecutions(ctx context.Context, scheduleID string, limit int) ([]*models.JobExecution, error)
	ToggleSchedule(ctx context.Context, id string, enabled bool) (*models.Schedule, error)
	RunNow(ctx context.Context, id string, progress chan<- tasks.ProgressUpdate) (*models.JobExecution, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	backend      Backend
	ownerID      string
	width        int
	height       int
	scheduleList list.Model
	historyList  list.Model
	selected     *models.Schedule
	progressChan chan tasks.ProgressUpdate
	resultChan   chan runResult
	progress     tasks.ProgressUpdate
	execution    *models.JobExecution
	status       string
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a dashboard over backend. An empty ownerID lists every owner's schedules.
func NewModel(ctx context.Context, backend Backend, ownerID string) *Model {
	return &Model{
		ctx:          ctx,
		view:         ScheduleListView,
		backend:      backend,
		ownerID:      ownerID,
		scheduleList: newList(nil, "Schedules"),
		historyList:  newList(nil, "History"),
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

func newList(items []list.Item, title string) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	return l
}

// Init initializes the TUI by loading schedules.
func (m *Model) Init() tea.Cmd {
	return m.fetchSchedules()
}

// View reports the active view.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case ScheduleListView:
		return m.renderScheduleList()
	case HistoryView:
		return m.renderHistory()
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.scheduleList.SetSize(msg.Width-4, msg.Height-8)
		m.historyList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ScheduleListView:
			return m.handleScheduleListKeys(msg)
		case HistoryView:
			return m.handleHistoryKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSchedulesFetched:
		res := msg.data.(schedulesResult)
		if res.err != nil {
			m.err = res.err
			return m, tea.Quit
		}
		items := make([]list.Item, len(res.schedules))
		for i, s := range res.schedules {
			items[i] = scheduleItem{schedule: s}
		}
		cmd := m.scheduleList.SetItems(items)
		return m, cmd

	case MsgHistoryFetched:
		res := msg.data.(historyResult)
		if res.err != nil {
			m.status = styles.err.Render(res.err.Error())
			return m, nil
		}
		m.selected = res.schedule
		items := make([]list.Item, len(res.executions))
		for i, e := range res.executions {
			items[i] = executionItem{execution: e}
		}
		m.historyList = newList(items, fmt.Sprintf("History • %s %s", res.schedule.JobType, res.schedule.ID))
		m.historyList.SetSize(m.width-4, m.height-8)
		m.view = HistoryView
		return m, nil

	case MsgScheduleToggled:
		res := msg.data.(toggleResult)
		if res.err != nil {
			m.status = styles.err.Render(res.err.Error())
			return m, nil
		}
		if m.selected != nil && m.selected.ID == res.schedule.ID {
			m.selected = res.schedule
		}
		m.status = styles.ok.Render(fmt.Sprintf("%s %s", res.schedule.ID, enabledLabel(res.schedule)))
		return m, m.replaceSchedule(res.schedule)

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgRunComplete:
		res := msg.data.(runResult)
		m.execution = res.execution
		m.err = res.err
		m.progressChan = nil
		m.resultChan = nil
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleScheduleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.scheduleList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.scheduleList, cmd = m.scheduleList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.history):
		if s := m.selectedSchedule(); s != nil {
			return m, m.fetchHistory(s)
		}
		return m, nil
	case key.Matches(msg, m.keys.run):
		if s := m.selectedSchedule(); s != nil {
			m.selected = s
			m.view = ConfirmView
		}
		return m, nil
	case key.Matches(msg, m.keys.toggle):
		if s := m.selectedSchedule(); s != nil {
			return m, m.toggle(s)
		}
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		m.status = ""
		return m, m.fetchSchedules()
	}

	var cmd tea.Cmd
	m.scheduleList, cmd = m.scheduleList.Update(msg)
	return m, cmd
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = ScheduleListView
		return m, nil
	case key.Matches(msg, m.keys.run):
		m.view = ConfirmView
		return m, nil
	case key.Matches(msg, m.keys.toggle):
		return m, m.toggle(m.selected)
	case key.Matches(msg, m.keys.history):
		if item, ok := m.historyList.SelectedItem().(executionItem); ok {
			m.execution = item.execution
			m.err = nil
			m.view = ResultView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.historyList, cmd = m.historyList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = RunView
		m.progress = tasks.ProgressUpdate{}
		return m, m.startRun()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = ScheduleListView
		return m, nil
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = ScheduleListView
		m.execution = nil
		m.err = nil
		return m, m.fetchSchedules()
	case key.Matches(msg, m.keys.history):
		m.execution = nil
		m.err = nil
		if m.selected != nil {
			return m, m.fetchHistory(m.selected)
		}
		m.view = ScheduleListView
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case ScheduleListView:
		m.scheduleList, cmd = m.scheduleList.Update(msg)
	case HistoryView:
		m.historyList, cmd = m.historyList.Update(msg)
	}
	return m, cmd
}

func (m *Model) selectedSchedule() *models.Schedule {
	if item, ok := m.scheduleList.SelectedItem().(scheduleItem); ok {
		return item.schedule
	}
	return nil
}

func (m *Model) replaceSchedule(s *models.Schedule) tea.Cmd {
	for i, item := range m.scheduleList.Items() {
		if si, ok := item.(scheduleItem); ok && si.schedule.ID == s.ID {
			return m.scheduleList.SetItem(i, scheduleItem{schedule: s})
		}
	}
	return nil
}

func (m *Model) fetchSchedules() tea.Cmd {
	return func() tea.Msg {
		schedules, err := m.backend.ListSchedules(m.ctx, m.ownerID)
		return schedulesFetchedMsg(schedules, err)
	}
}

func (m *Model) fetchHistory(s *models.Schedule) tea.Cmd {
	return func() tea.Msg {
		execs, err := m.backend.ListExecutions(m.ctx, s.ID, historyLimit)
		return historyFetchedMsg(s, execs, err)
	}
}

func (m *Model) toggle(s *models.Schedule) tea.Cmd {
	if s == nil {
		return nil
	}
	id, enabled := s.ID, !s.Enabled
	return func() tea.Msg {
		updated, err := m.backend.ToggleSchedule(m.ctx, id, enabled)
		return scheduleToggledMsg(updated, err)
	}
}

// startRun triggers a manual run in the background; the result arrives after the progress channel closes.
func (m *Model) startRun() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 50)
	results := make(chan runResult, 1)
	m.progressChan = progress
	m.resultChan = results

	id := m.selected.ID
	go func() {
		exec, err := m.backend.RunNow(m.ctx, id, progress)
		results <- runResult{execution: exec, err: err}
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, results := m.progressChan, m.resultChan
	return func() tea.Msg {
		if progress == nil {
			return runCompleteMsg(nil, nil)
		}

		update, ok := <-progress
		if !ok {
			res := <-results
			return runCompleteMsg(res.execution, res.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderScheduleList() string {
	helpKeys := []key.Binding{m.keys.history, m.keys.run, m.keys.toggle, m.keys.refresh, m.keys.quit}
	out := fmt.Sprintf("%s\n\n%s", m.scheduleList.View(), m.help.ShortHelpView(helpKeys))
	if m.status != "" {
		out += "\n" + m.status
	}
	return out
}

func (m *Model) renderHistory() string {
	detailKey := key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details"))
	helpKeys := []key.Binding{detailKey, m.keys.run, m.keys.toggle, m.keys.back, m.keys.quit}
	out := fmt.Sprintf("%s\n\n%s", m.historyList.View(), m.help.ShortHelpView(helpKeys))
	if m.status != "" {
		out += "\n" + m.status
	}
	return out
}

func (m *Model) renderConfirm() string {
	s := m.selected
	title := styles.title.Render(fmt.Sprintf("Run %s job now?", s.JobType))
	info := fmt.Sprintf("\nSchedule: %s\nTrigger: %s %s\nTargets: %s\n",
		s.ID, s.ScheduleType, s.ScheduleValue, describeTargets(s.TargetRefs))
	if !s.Enabled {
		info += styles.warn.Render("\nSchedule is disabled; enable it before running.") + "\n"
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderRun() string {
	title := styles.title.Render(fmt.Sprintf("Running %s", m.selected.JobType))

	phase := "Waiting for executor..."
	if m.progress.Message != "" {
		phase = fmt.Sprintf("%s (%d/%d)", m.progress.Phase, m.progress.Step, m.progress.Total)
	}

	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, m.progress.Message)
}

func (m *Model) renderResult() string {
	helpKeys := []key.Binding{m.keys.history, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	if m.err != nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(fmt.Sprintf("Run failed: %v", m.err)), helpView)
	}
	if m.execution == nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render("No execution recorded"), helpView)
	}

	e := m.execution
	heading := fmt.Sprintf("%s %s", strings.ToUpper(string(e.Status)), e.ErrorKind)
	title := styles.statusStyle(e).Render(strings.TrimSpace(heading))

	return fmt.Sprintf("%s\n\n%s\n%s", title, formatter.ExecutionDetail(e), helpView)
}

func describeTargets(refs models.TargetRefs) string {
	var parts []string
	if refs.PlaylistID != "" {
		parts = append(parts, "playlist "+refs.PlaylistID)
	}
	if n := len(refs.SourceIDs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d sources", n))
	}
	if refs.PairID != "" {
		parts = append(parts, "pair "+refs.PairID)
	}
	return strings.Join(parts, ", ")
}

func enabledLabel(s *models.Schedule) string {
	if s.Enabled {
		return "enabled"
	}
	return "disabled"
}
