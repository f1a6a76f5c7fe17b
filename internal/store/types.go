package store

import "time"

// ChatKind distinguishes one-to-one contacts from groups.
type ChatKind string

const (
	KindContact ChatKind = "contact"
	KindGroup   ChatKind = "group"
)

// Direction tells whether a message was received or sent by the operator.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DefaultPriority is assigned to chats that have never been marked.
const DefaultPriority = 5

// Chat is a contact or group reported by the gateway.
type Chat struct {
	ChatID             string
	Kind               ChatKind
	DisplayName        string
	PhoneOrGroupID     string
	Company            string
	Category           string
	DisplayNameIsClean bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Selection is the operator's scope decision for one chat.
type Selection struct {
	ChatID    string
	InScope   bool
	Priority  int
	UpdatedAt time.Time
}

// ScopedChat pairs a selection with its chat record. Chat is nil when the
// chat was marked before the gateway reported it.
type ScopedChat struct {
	Selection
	Chat *Chat
}

// Name returns the best label for ordering and logging.
func (s ScopedChat) Name() string {
	if s.Chat != nil && s.Chat.DisplayName != "" {
		return s.Chat.DisplayName
	}
	return s.ChatID
}

// Message is one stored chat message. Immutable once stored.
type Message struct {
	ChatID     string
	ExternalID string
	Timestamp  time.Time
	Direction  Direction
	SenderID   string
	Body       string
	HasMedia   bool
}

// EventRecord is the local ledger entry for an event created in the target calendar.
type EventRecord struct {
	Marker          string
	ChatID          string
	ExternalEventID string
	Start           time.Time
	End             time.Time
	Title           string
	CreatedAt       time.Time
}

// Tombstone records that the event for a marker was deleted on purpose.
type Tombstone struct {
	Marker    string
	ChatID    string
	DeletedAt time.Time
	Reason    string
}

// SyncStatus is one recorded attempt to sync a chat (or a whole fleet) over a window.
type SyncStatus struct {
	ID              int64
	RunID           string
	ItemID          string
	ItemType        string // contact, group, fleet
	WindowStart     time.Time
	WindowEnd       time.Time
	LastAttempt     time.Time
	Success         bool
	MessagesFetched int
	EventsCreated   int
	ErrorKind       string
	ErrorSummary    string
	FinalState      string
}

// OperatorSession is a bearer token accepted by the control surfaces.
type OperatorSession struct {
	Token      string
	Label      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastSeenAt *time.Time
}

// Stats holds store-wide totals.
type Stats struct {
	Chats         int64      `json:"chats"`
	Contacts      int64      `json:"contacts"`
	Groups        int64      `json:"groups"`
	InScope       int64      `json:"in_scope"`
	Messages      int64      `json:"messages"`
	Events        int64      `json:"events"`
	Tombstones    int64      `json:"tombstones"`
	SyncAttempts  int64      `json:"sync_attempts"`
	SyncFailures  int64      `json:"sync_failures"`
	LastFleetRun  *time.Time `json:"last_fleet_run,omitempty"`
	LastFleetOK   bool       `json:"last_fleet_ok"`
	EventsCreated int64      `json:"events_created_total"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
