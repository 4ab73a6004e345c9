// package formatter renders schedules and execution history as text tables, CSV, Markdown or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Formats lists every supported [Format].
var Formats = []Format{FormatText, FormatCSV, FormatMarkdown, FormatJSON}

// ParseFormat accepts a format name, including the "md" shorthand.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (expected text, csv, markdown or json)", shared.ErrInvalidFlag, s)
}

const timeLayout = "2006-01-02 15:04:05Z"

var executionHeaders = []string{"ID", "Trigger", "Status", "Kind", "Started", "Duration", "Summary"}

var scheduleHeaders = []string{"ID", "Owner", "Job", "Trigger", "Enabled", "Next Run", "Last Run", "Runs", "Failures"}

// Executions renders execution history in format f.
func Executions(execs []*models.JobExecution, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return writeCSV(executionHeaders, executionRows(execs))
	case FormatMarkdown:
		return ExecutionsToMarkdown(execs), nil
	case FormatJSON:
		if execs == nil {
			execs = []*models.JobExecution{}
		}
		return shared.MarshalJSON(execs, true)
	default:
		return renderTable(executionHeaders, executionRows(execs)), nil
	}
}

// Schedules renders a schedule listing in format f.
func Schedules(scheds []*models.Schedule, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return writeCSV(scheduleHeaders, scheduleRows(scheds))
	case FormatMarkdown:
		return SchedulesToMarkdown(scheds), nil
	case FormatJSON:
		if scheds == nil {
			scheds = []*models.Schedule{}
		}
		return shared.MarshalJSON(scheds, true)
	default:
		return renderTable(scheduleHeaders, scheduleRows(scheds)), nil
	}
}

// ExecutionsToMarkdown renders history as a Markdown table followed by per-execution error details.
func ExecutionsToMarkdown(execs []*models.JobExecution) []byte {
	var buf bytes.Buffer

	buf.WriteString("# Execution History\n\n")
	buf.WriteString(fmt.Sprintf("**Executions**: %d\n\n", len(execs)))
	writeMarkdownTable(&buf, executionHeaders, executionRows(execs))

	var details []*models.JobExecution
	for _, e := range execs {
		if e.ErrorMessage != "" || e.Result.HasErrors() {
			details = append(details, e)
		}
	}
	if len(details) == 0 {
		return buf.Bytes()
	}

	buf.WriteString("\n## Errors\n")
	for _, e := range details {
		buf.WriteString(fmt.Sprintf("\n### %s\n\n", e.ID))
		if e.ErrorMessage != "" {
			buf.WriteString(fmt.Sprintf("- %s\n", e.ErrorMessage))
		}
		for _, line := range e.Result.ErrorSummary() {
			buf.WriteString(fmt.Sprintf("- %s\n", line))
		}
	}

	return buf.Bytes()
}

// SchedulesToMarkdown renders schedules as a Markdown table.
func SchedulesToMarkdown(scheds []*models.Schedule) []byte {
	var buf bytes.Buffer

	buf.WriteString("# Schedules\n\n")
	buf.WriteString(fmt.Sprintf("**Schedules**: %d\n\n", len(scheds)))
	writeMarkdownTable(&buf, scheduleHeaders, scheduleRows(scheds))

	return buf.Bytes()
}

// ExecutionDetail renders one execution as labelled lines, including the full result summary.
func ExecutionDetail(e *models.JobExecution) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Execution: %s\n", e.ID))
	buf.WriteString(fmt.Sprintf("Schedule: %s\n", e.ScheduleID))
	buf.WriteString(fmt.Sprintf("Trigger: %s\n", e.Trigger))
	buf.WriteString(fmt.Sprintf("Status: %s\n", e.Status))
	if e.ErrorKind != models.ErrorKindNone {
		buf.WriteString(fmt.Sprintf("Kind: %s\n", e.ErrorKind))
	}
	buf.WriteString(fmt.Sprintf("Started: %s\n", e.StartedAt.UTC().Format(timeLayout)))
	buf.WriteString(fmt.Sprintf("Finished: %s\n", formatTime(e.FinishedAt)))
	if e.FinishedAt != nil {
		buf.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(e.Duration())))
	}
	if e.ErrorMessage != "" {
		buf.WriteString(fmt.Sprintf("Error: %s\n", e.ErrorMessage))
	}

	r := e.Result
	if r.TracksMoved > 0 {
		buf.WriteString(fmt.Sprintf("Tracks moved: %d\n", r.TracksMoved))
	}
	writeList(&buf, "Added", r.Added)
	writeList(&buf, "Archived", r.Archived)
	writeList(&buf, "Replenished", r.Replenished)
	writeList(&buf, "Problems", r.ErrorSummary())

	return buf.Bytes()
}

// WriteExport writes rendered output to path, creating or truncating it.
func WriteExport(data []byte, path string) error {
	if path == "" {
		return fmt.Errorf("%w: output path", shared.ErrMissingArgument)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

func executionRows(execs []*models.JobExecution) [][]string {
	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		duration := "-"
		if e.FinishedAt != nil {
			duration = formatDuration(e.Duration())
		}
		rows = append(rows, []string{
			e.ID,
			string(e.Trigger),
			string(e.Status),
			string(e.ErrorKind),
			e.StartedAt.UTC().Format(timeLayout),
			duration,
			Summarize(e),
		})
	}
	return rows
}

func scheduleRows(scheds []*models.Schedule) [][]string {
	rows := make([][]string, 0, len(scheds))
	for _, s := range scheds {
		enabled := strconv.FormatBool(s.Enabled)
		if s.PausedReason != "" {
			enabled += " (" + s.PausedReason + ")"
		}
		rows = append(rows, []string{
			s.ID,
			s.OwnerID,
			string(s.JobType),
			string(s.ScheduleType) + " " + s.ScheduleValue,
			enabled,
			formatTime(s.NextRunAt),
			formatTime(s.LastRunAt),
			strconv.Itoa(s.RunCount),
			strconv.Itoa(s.ConsecutiveFailureCount),
		})
	}
	return rows
}

// Summarize condenses an execution's outcome into one line.
func Summarize(e *models.JobExecution) string {
	r := e.Result
	var parts []string
	if r.TracksMoved > 0 {
		parts = append(parts, fmt.Sprintf("moved %d", r.TracksMoved))
	}
	if n := len(r.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("added %d", n))
	}
	if n := len(r.Archived); n > 0 {
		parts = append(parts, fmt.Sprintf("archived %d", n))
	}
	if n := len(r.Replenished); n > 0 {
		parts = append(parts, fmt.Sprintf("replenished %d", n))
	}
	if n := len(r.ErrorSummary()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d problems", n))
	}
	if len(parts) == 0 && e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	return strings.Join(parts, ", ")
}

func renderTable(headers []string, rows [][]string) []byte {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	return []byte(t.String() + "\n")
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, record := range rows {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func writeMarkdownTable(buf *bytes.Buffer, headers []string, rows [][]string) {
	buf.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	buf.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		buf.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}

func writeList(buf *bytes.Buffer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	buf.WriteString(fmt.Sprintf("%s (%d):\n", label, len(items)))
	for _, item := range items {
		buf.WriteString("  - " + item + "\n")
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// formatDuration rounds to milliseconds below a second and to seconds above.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
