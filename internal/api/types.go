package api

import (
	"time"

	"github.com/matheus3301/wppcal/internal/logging"
	"github.com/matheus3301/wppcal/internal/scheduler"
	"github.com/matheus3301/wppcal/internal/store"
	wsync "github.com/matheus3301/wppcal/internal/sync"
)

// Dates are YYYY-MM-DD in the daemon's local time zone; the end day is inclusive.

type SyncChatRequest struct {
	ChatID string `json:"chat_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type SyncChatResponse struct {
	Report   wsync.SyncReport `json:"report"`
	ExitCode int              `json:"exit_code"`
}

type SyncAllRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type SyncAllResponse struct {
	Report   *wsync.FleetReport `json:"report"`
	ExitCode int                `json:"exit_code"`
	Error    string             `json:"error,omitempty"`
}

// MarkRequest changes a chat's selection. Nil fields and empty tags keep
// the stored values.
type MarkRequest struct {
	ChatID   string `json:"chat_id"`
	InScope  *bool  `json:"in_scope,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Company  string `json:"company,omitempty"`
	Category string `json:"category,omitempty"`
}

type MarkResponse struct {
	ChatID    string    `json:"chat_id"`
	InScope   bool      `json:"in_scope"`
	Priority  int       `json:"priority"`
	UpdatedAt time.Time `json:"updated_at"`
	Known     bool      `json:"known"`
}

type StatsRequest struct{}

type StatsResponse struct {
	store.Stats
	FleetRunning  bool       `json:"fleet_running"`
	NextWeeklyRun *time.Time `json:"next_weekly_run,omitempty"`
	DroppedEvents int64      `json:"dropped_bus_events"`
}

type LogsRequest struct {
	// Since is a Go duration such as "2h". Empty returns the whole log.
	Since string `json:"since,omitempty"`
}

type LogsResponse struct {
	Entries []logging.Entry `json:"entries"`
}

type ChatsRequest struct {
	InScopeOnly bool `json:"in_scope_only,omitempty"`
}

// ChatView is one chat as shown to the operator.
type ChatView struct {
	ChatID      string `json:"chat_id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone_or_group_id,omitempty"`
	Company     string `json:"company,omitempty"`
	Category    string `json:"category,omitempty"`
	CleanName   bool   `json:"display_name_is_clean"`
	InScope     bool   `json:"in_scope"`
	Priority    int    `json:"priority"`
}

type ChatsResponse struct {
	Chats []ChatView `json:"chats"`
}

type RefreshChatsRequest struct{}

type RefreshChatsResponse struct {
	Added   int `json:"added"`
	Renamed int `json:"renamed"`
}

type DeleteEventRequest struct {
	Marker string `json:"marker"`
}

type DeleteEventResponse struct {
	Marker     string `json:"marker"`
	Tombstoned bool   `json:"tombstoned"`
}

type ForgetTombstonesRequest struct {
	// ChatID limits the operation to one chat. Empty means every chat.
	ChatID string `json:"chat_id,omitempty"`
}

type ForgetTombstonesResponse struct {
	Forgotten int64 `json:"forgotten"`
}

type WeeklyRunRequest struct{}

type WeeklyRunResponse struct {
	Summary  *scheduler.WeeklySummary `json:"summary,omitempty"`
	ExitCode int                      `json:"exit_code"`
	Error    string                   `json:"error,omitempty"`
}

type CancelRequest struct{}

type CancelResponse struct {
	// Runs is how many runs were told to stop.
	Runs int `json:"runs"`
}

type WatchRequest struct {
	// Prefixes filters event kinds, e.g. "sync." or "calendar.". Empty
	// means every kind.
	Prefixes []string `json:"prefixes,omitempty"`
}

// Envelope is one bus event streamed to a watcher.
type Envelope struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}
