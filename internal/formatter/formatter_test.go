package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/cadence/internal/models"
	"github.com/desertthunder/cadence/internal/shared"
	th "github.com/desertthunder/cadence/internal/testing"
)

func sampleExecutions() []*models.JobExecution {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)
	later := started.Add(time.Hour + 1500*time.Millisecond)

	return []*models.JobExecution{
		{
			ID:         "exec-1",
			ScheduleID: "sched-1",
			Trigger:    models.TriggerScheduled,
			Status:     models.StatusSuccess,
			StartedAt:  started,
			FinishedAt: &finished,
			Result:     models.ResultSummary{TracksMoved: 7},
		},
		{
			ID:         "exec-2",
			ScheduleID: "sched-1",
			Trigger:    models.TriggerManual,
			Status:     models.StatusSuccess,
			ErrorKind:  models.ErrorKindPartialFailure,
			StartedAt:  started.Add(time.Hour),
			FinishedAt: &later,
			Result: models.ResultSummary{
				Added:           []string{"t1", "t2"},
				PerSourceErrors: map[string]string{"src-9": "playlist not found"},
			},
		},
		{
			ID:           "exec-3",
			ScheduleID:   "sched-1",
			Trigger:      models.TriggerScheduled,
			Status:       models.StatusFailed,
			ErrorKind:    models.ErrorKindAuthExpired,
			ErrorMessage: "authorization expired for owner o-1",
			StartedAt:    started.Add(2 * time.Hour),
		},
	}
}

func sampleSchedules() []*models.Schedule {
	next := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	return []*models.Schedule{
		{
			ID:            "sched-1",
			OwnerID:       "owner-1",
			JobType:       models.JobShuffle,
			ScheduleType:  models.ScheduleInterval,
			ScheduleValue: "daily",
			Enabled:       true,
			NextRunAt:     &next,
			RunCount:      4,
		},
		{
			ID:                      "sched-2",
			OwnerID:                 "owner-1",
			JobType:                 models.JobRotate,
			ScheduleType:            models.ScheduleCron,
			ScheduleValue:           "0 9 * * 1",
			PausedReason:            models.PausedAuthExpired,
			ConsecutiveFailureCount: 3,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatText},
		{"TEXT", FormatText},
		{"csv", FormatCSV},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{" json ", FormatJSON},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil {
			t.Errorf("ParseFormat(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestExecutions(t *testing.T) {
	execs := sampleExecutions()

	t.Run("text", func(t *testing.T) {
		data, err := Executions(execs, FormatText)
		if err != nil {
			t.Fatalf("Executions failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{"Status", "exec-1", "moved 7", "added 2, 1 problems", "AuthExpired", "3s", "2024-06-01 14:00:00Z"} {
			if !strings.Contains(output, want) {
				t.Errorf("text output missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := Executions(execs, FormatCSV)
		if err != nil {
			t.Fatalf("Executions failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")

		if lines[0] != "ID,Trigger,Status,Kind,Started,Duration,Summary" {
			t.Errorf("unexpected CSV header: %s", lines[0])
		}
		if len(lines) != 4 {
			t.Fatalf("expected 4 lines, got %d", len(lines))
		}
		if !strings.Contains(lines[3], "exec-3,scheduled,failed,AuthExpired") {
			t.Errorf("unexpected CSV row: %s", lines[3])
		}
		if !strings.HasSuffix(lines[3], ",-,authorization expired for owner o-1") {
			t.Errorf("running or unfinished rows should show '-' and fall back to the error: %s", lines[3])
		}
	})

	t.Run("markdown", func(t *testing.T) {
		data, err := Executions(execs, FormatMarkdown)
		if err != nil {
			t.Fatalf("Executions failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{
			"# Execution History",
			"**Executions**: 3",
			"| ID | Trigger | Status |",
			"## Errors",
			"### exec-2",
			"- source src-9: playlist not found",
			"### exec-3",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("markdown output missing %q", want)
			}
		}
		if strings.Contains(output, "### exec-1") {
			t.Errorf("clean executions should not be listed under errors")
		}
	})

	t.Run("json", func(t *testing.T) {
		data, err := Executions(execs, FormatJSON)
		if err != nil {
			t.Fatalf("Executions failed: %v", err)
		}

		var decoded []map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 3 {
			t.Fatalf("expected 3 executions, got %d", len(decoded))
		}
		if decoded[2]["error_kind"] != "AuthExpired" {
			t.Errorf("expected error_kind AuthExpired, got %v", decoded[2]["error_kind"])
		}
	})

	t.Run("empty json is an array", func(t *testing.T) {
		data, err := Executions(nil, FormatJSON)
		if err != nil {
			t.Fatalf("Executions failed: %v", err)
		}
		if strings.TrimSpace(string(data)) != "[]" {
			t.Errorf("expected [], got %s", data)
		}
	})
}

func TestSchedules(t *testing.T) {
	scheds := sampleSchedules()

	t.Run("text", func(t *testing.T) {
		data, err := Schedules(scheds, FormatText)
		if err != nil {
			t.Fatalf("Schedules failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{"sched-1", "interval daily", "cron 0 9 * * 1", "false (auth_expired)", "2024-06-02 12:00:00Z"} {
			if !strings.Contains(output, want) {
				t.Errorf("text output missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := Schedules(scheds, FormatCSV)
		if err != nil {
			t.Fatalf("Schedules failed: %v", err)
		}
		output := string(data)

		if !strings.HasPrefix(output, "ID,Owner,Job,Trigger,Enabled,Next Run,Last Run,Runs,Failures\n") {
			t.Errorf("unexpected CSV header: %s", output)
		}
		if !strings.Contains(output, "sched-2,owner-1,rotate,cron 0 9 * * 1,false (auth_expired),-,-,0,3") {
			t.Errorf("unexpected CSV rows: %s", output)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		data, err := Schedules(scheds, FormatMarkdown)
		if err != nil {
			t.Fatalf("Schedules failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "**Schedules**: 2") {
			t.Errorf("markdown missing count")
		}
		if !strings.Contains(output, "| sched-1 | owner-1 | shuffle | interval daily | true |") {
			t.Errorf("markdown missing row, got:\n%s", output)
		}
	})
}

func TestExecutionDetail(t *testing.T) {
	execs := sampleExecutions()

	output := string(ExecutionDetail(execs[1]))
	for _, want := range []string{"Execution: exec-2", "Trigger: manual", "Kind: PartialFailure", "Duration:", "Added (2):", "  - t1", "Problems (1):"} {
		if !strings.Contains(output, want) {
			t.Errorf("detail missing %q, got:\n%s", want, output)
		}
	}

	running := string(ExecutionDetail(&models.JobExecution{ID: "exec-4", Status: models.StatusRunning}))
	if !strings.Contains(running, "Finished: -") {
		t.Errorf("running execution should show no finish time")
	}
	if strings.Contains(running, "Duration:") {
		t.Errorf("running execution should not show a duration")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		exec *models.JobExecution
		want string
	}{
		{"empty", &models.JobExecution{}, ""},
		{"rotation", &models.JobExecution{Result: models.ResultSummary{Archived: []string{"a"}, Replenished: []string{"b", "c"}}}, "archived 1, replenished 2"},
		{"error only", &models.JobExecution{ErrorMessage: "boom"}, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.exec); got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")

	data, err := Executions(sampleExecutions(), FormatCSV)
	if err != nil {
		t.Fatalf("Executions failed: %v", err)
	}
	if err := WriteExport(data, path); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}

	th.AssertFileExists(t, path)
	if content := th.MustReadFile(t, path); content != string(data) {
		t.Errorf("file content mismatch")
	}

	if err := WriteExport(data, ""); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument, got %v", err)
	}
}
