package bus

import "time"

// Event kinds published by the sync pipeline.
const (
	KindChatState    = "sync.chat_state"
	KindChatDone     = "sync.chat_done"
	KindFleetStarted = "sync.fleet_started"
	KindFleetDone    = "sync.fleet_done"
	KindEventCreated = "calendar.event_created"
	KindEventDeleted = "calendar.event_deleted"
	KindConfigReload = "config.reloaded"
	KindWeeklyReport = "scheduler.weekly_report"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
