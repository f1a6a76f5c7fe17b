package sync

import (
	"errors"
	"time"

	"github.com/matheus3301/wppcal/internal/status"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// Outcome summarizes one chat sync.
type Outcome string

const (
	Synced  Outcome = "synced"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// Process exit codes for the operator surface.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitPartial = 2
)

// SyncReport is the result of syncing one chat over a window.
type SyncReport struct {
	ChatID          string       `json:"chat_id"`
	Name            string       `json:"name,omitempty"`
	Priority        int          `json:"priority"`
	Category        string       `json:"category,omitempty"`
	Outcome         Outcome      `json:"outcome"`
	State           status.State `json:"state"`
	WindowStart     time.Time    `json:"window_start"`
	WindowEnd       time.Time    `json:"window_end"`
	MessagesFetched int          `json:"messages_fetched"`
	MessagesStored  int          `json:"messages_stored"`
	Sessions        int          `json:"sessions"`
	EventsCreated   int          `json:"events_created"`
	EventsExisting  int          `json:"events_existing"`
	SessionsSkipped int          `json:"sessions_skipped"`
	Tombstoned      int          `json:"tombstoned"`
	ErrorKind       syncerr.Kind `json:"error_kind,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// ExitCode maps the chat result onto the process exit code.
func (r SyncReport) ExitCode() int {
	switch {
	case r.ErrorKind.Fatal():
		return ExitConfig
	case r.Outcome == Failed:
		return ExitPartial
	default:
		return ExitOK
	}
}

// FleetReport aggregates one fleet run. A run that was cancelled or aborted
// still lists every chat it finished.
type FleetReport struct {
	RunID            string       `json:"run_id"`
	WindowStart      time.Time    `json:"window_start"`
	WindowEnd        time.Time    `json:"window_end"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	Chats            []SyncReport `json:"chats"`
	SuccessCount     int          `json:"success_count"`
	FailureCount     int          `json:"failure_count"`
	SkippedCount     int          `json:"skipped_count"`
	MessagesFetched  int          `json:"messages_fetched"`
	EventsCreated    int          `json:"events_created"`
	ChatsAdded       int          `json:"chats_added"`
	ChatsRenamed     int          `json:"chats_renamed"`
	LedgerRecorded   int          `json:"ledger_recorded"`
	LedgerTombstoned int          `json:"ledger_tombstoned"`
	Cancelled        bool         `json:"cancelled,omitempty"`
	Aborted          bool         `json:"aborted,omitempty"`
	AbortKind        syncerr.Kind `json:"abort_kind,omitempty"`
}

func (f *FleetReport) add(r SyncReport) {
	f.Chats = append(f.Chats, r)
	switch r.Outcome {
	case Synced:
		f.SuccessCount++
	case Failed:
		f.FailureCount++
	case Skipped:
		f.SkippedCount++
	}
	f.MessagesFetched += r.MessagesFetched
	f.EventsCreated += r.EventsCreated
}

// OK reports whether every chat synced and the run finished.
func (f *FleetReport) OK() bool {
	return f.FailureCount == 0 && !f.Cancelled && !f.Aborted
}

// ExitCode maps the fleet result onto the process exit code.
func (f *FleetReport) ExitCode() int {
	switch {
	case f.Aborted && f.AbortKind.Fatal():
		return ExitConfig
	case !f.OK():
		return ExitPartial
	default:
		return ExitOK
	}
}

// ExitCode picks the exit code for a fleet run that returned report and err.
// report may be nil.
func ExitCode(report *FleetReport, err error) int {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return ExitPartial
	case syncerr.KindOf(err).Fatal():
		return ExitConfig
	case report == nil && err != nil:
		return ExitConfig
	case report == nil:
		return ExitOK
	}
	code := report.ExitCode()
	if code == ExitOK && err != nil {
		return ExitPartial
	}
	return code
}
