// Package ui implements an interactive terminal dashboard using bubbletea's Elm architecture.
//
// The dashboard provides a multi-view workflow over scheduled jobs:
//  1. [ScheduleListView] : Browse schedules with their trigger, state and next run
//  2. [HistoryView] : Inspect a schedule's execution history
//  3. [ConfirmView] : Confirm a manual run
//  4. [RunView] : Monitor real-time progress of the manual run
//  5. [ResultView] : Display the recorded execution
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the executor, providing non-blocking status reporting during a run.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
