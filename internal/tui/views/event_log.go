package views

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/wppcal/internal/api"
)

// EventLog shows the daemon's event stream, newest last.
type EventLog struct {
	*tview.TextView
}

func NewEventLog() *EventLog {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).SetTitle(" Events ")
	return &EventLog{TextView: tv}
}

// Update redraws the log and scrolls to the end.
func (el *EventLog) Update(events []api.Envelope) {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(FormatEvent(e))
		b.WriteByte('\n')
	}
	el.SetText(b.String())
	el.ScrollToEnd()
}

// FormatEvent renders one event as a single colored line.
func FormatEvent(e api.Envelope) string {
	color := "white"
	switch {
	case strings.HasPrefix(e.Kind, "calendar."):
		color = "green"
	case strings.HasPrefix(e.Kind, "sync."):
		color = "aqua"
	case strings.HasPrefix(e.Kind, "scheduler."), strings.HasPrefix(e.Kind, "config."):
		color = "yellow"
	}
	line := fmt.Sprintf("%s [%s]%s[-]", e.OccurredAt.Local().Format(time.TimeOnly), color, e.Kind)
	if e.Payload != nil {
		if raw, err := json.Marshal(e.Payload); err == nil && string(raw) != "null" {
			line += " " + tview.Escape(sanitizeForTerminal(string(raw)))
		}
	}
	return line
}
