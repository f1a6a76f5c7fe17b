// Package session groups the messages of one chat into conversation
// sessions separated by inactivity.
package session

import (
	"time"

	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/store"
)

// Params tunes session building.
type Params struct {
	Gap         time.Duration
	TrailingPad time.Duration
	MinDuration time.Duration
	// MinMessages applies below HighPriorityThreshold, MinMessagesHighPriority at or above it.
	MinMessages             int
	MinMessagesHighPriority int
	HighPriorityThreshold   int
}

// DefaultParams returns 30m gap, 5m pad, 15m minimum, 2 messages (1 at priority >= 7).
func DefaultParams() Params {
	return FromConfig(config.Default().Session)
}

// FromConfig converts the [session] config block.
func FromConfig(c config.SessionConfig) Params {
	return Params{
		Gap:                     c.Gap(),
		TrailingPad:             c.TrailingPad(),
		MinDuration:             c.MinDuration(),
		MinMessages:             c.MinMessages,
		MinMessagesHighPriority: c.MinMessagesHighPriority,
		HighPriorityThreshold:   c.HighPriorityThreshold,
	}
}

// MinMessagesFor returns the session size threshold for a chat priority.
func (p Params) MinMessagesFor(priority int) int {
	if priority >= p.HighPriorityThreshold {
		return p.MinMessagesHighPriority
	}
	return p.MinMessages
}

// Window is an inclusive UTC time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Session is a maximal run of messages in one chat with no gap above Params.Gap.
type Session struct {
	ChatID         string
	Start          time.Time
	End            time.Time
	MessageCount   int
	FirstMessageID string
	LastMessageID  string
	Inbound        int
	Outbound       int
	First          store.Message
	Last           store.Message
}

// Duration returns End - Start.
func (s Session) Duration() time.Duration { return s.End.Sub(s.Start) }

// Build splits msgs into sessions. Input order does not matter: messages are
// sorted by (timestamp, external id) and a repeated id keeps its earliest copy. Messages
// of other chats or outside w are ignored. The result is ordered by start.
func Build(chatID string, msgs []store.Message, p Params, priority int, w Window) []Session {
	candidates := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ChatID == chatID && w.Contains(m.Timestamp) {
			candidates = append(candidates, m)
		}
	}
	store.SortMessages(candidates)

	in := candidates[:0]
	seen := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		if seen[m.ExternalID] {
			continue
		}
		seen[m.ExternalID] = true
		in = append(in, m)
	}
	if len(in) == 0 {
		return nil
	}

	minMessages := p.MinMessagesFor(priority)
	var out []Session
	flush := func(run []store.Message) {
		if len(run) < minMessages {
			return
		}
		out = append(out, finish(chatID, run, p, w))
	}

	startIdx := 0
	for i := 1; i < len(in); i++ {
		if in[i].Timestamp.Sub(in[i-1].Timestamp) > p.Gap {
			flush(in[startIdx:i])
			startIdx = i
		}
	}
	flush(in[startIdx:])
	return out
}

func finish(chatID string, run []store.Message, p Params, w Window) Session {
	first, last := run[0], run[len(run)-1]
	s := Session{
		ChatID:         chatID,
		Start:          first.Timestamp,
		MessageCount:   len(run),
		FirstMessageID: first.ExternalID,
		LastMessageID:  last.ExternalID,
		First:          first,
		Last:           last,
	}
	for _, m := range run {
		if m.Direction == store.Outbound {
			s.Outbound++
		} else {
			s.Inbound++
		}
	}

	end := last.Timestamp.Add(p.TrailingPad)
	if end.Sub(s.Start) < p.MinDuration {
		end = s.Start.Add(p.MinDuration)
	}
	// Clamp to the window, unless that would leave an empty event (a
	// session starting exactly at the window end keeps its minimum length).
	if end.After(w.End) && w.End.After(s.Start) {
		end = w.End
	}
	s.End = end
	return s
}
