package tasks

import (
	"fmt"

	"github.com/desertthunder/cadence/internal/models"
)

// ProgressUpdate represents a progress event during an execution.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	ExecutionID string // Execution the event belongs to
	Phase       Phase  // Operation phase
	Step        int    // Current step number within phase
	Total       int    // Total steps in this phase
	Message     string // Human-readable message for display
	Data        any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Begin Phase = iota
	Authorize
	FetchSource
	FetchDest
	Filter
	WriteTracks
	Reorder
	Archive
	Replenish
	Finish
)

func (p Phase) String() string {
	switch p {
	case Begin:
		return "begin"
	case Authorize:
		return "authorize"
	case FetchSource:
		return "fetch_source"
	case FetchDest:
		return "fetch_dest"
	case Filter:
		return "filter"
	case WriteTracks:
		return "write_tracks"
	case Reorder:
		return "reorder"
	case Archive:
		return "archive"
	case Replenish:
		return "replenish"
	case Finish:
		return "finish"
	default:
		return ""
	}
}

// reporter sends updates through the channel without blocking.
type reporter struct {
	executionID string
	ch          chan<- ProgressUpdate
}

func (r reporter) send(update ProgressUpdate) {
	if r.ch == nil {
		return
	}
	update.ExecutionID = r.executionID
	select {
	case r.ch <- update:
	default:
		// Channel full, skip this update
	}
}

func beginUpdate(s *models.Schedule) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Begin,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Starting %s job for schedule %s...", s.JobType, s.ID),
	}
}

func authorizeUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: Authorize, Step: 1, Total: 1, Message: "Refreshing access token..."}
}

func fetchSourceUpdate(step, total int, src *models.UpstreamSource) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reading %s source %s...", step, total, src.SourceType, src.SourceRef),
	}
}

func fetchDestUpdate(ref string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchDest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Reading playlist %s...", ref),
	}
}

func filterUpdate(step, total, candidates, kept int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Filter,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %d of %d new tracks passed filters", step, total, kept, candidates),
	}
}

func writeTracksUpdate(step, total int, ref string, ids []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Adding %d tracks to %s", step, total, len(ids), ref),
		Data:    ids,
	}
}

func reorderUpdate(ref string, moved, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Reorder,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Reordering %s: %d of %d positions changed", ref, moved, total),
	}
}

func archiveUpdate(step, total, size int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Archive,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Archiving %d stale tracks", step, total, size),
	}
}

func replenishUpdate(ref string, ids []string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Replenish,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Replenishing %d tracks from %s", len(ids), ref),
		Data:    ids,
	}
}

func finishUpdate(exec *models.JobExecution) ProgressUpdate {
	msg := fmt.Sprintf("Execution %s finished: %s", exec.ID, exec.Status)
	if exec.ErrorKind != models.ErrorKindNone {
		msg += fmt.Sprintf(" (%s)", exec.ErrorKind)
	}
	return ProgressUpdate{Phase: Finish, Step: 1, Total: 1, Message: msg, Data: exec}
}
