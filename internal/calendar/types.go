package calendar

import "time"

// Private extended property keys written on every event this service creates.
const (
	PropMarker   = "wppcal_marker"
	PropChat     = "wppcal_chat"
	PropCategory = "wppcal_category"
)

// Payload describes an event to create.
type Payload struct {
	Marker      string
	ChatID      string
	Category    string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// Event is an event as read back from the target calendar.
type Event struct {
	ID      string
	Marker  string
	ChatID  string
	Title   string
	Status  string
	Start   time.Time
	End     time.Time
	HTMLURL string
}
