package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/wppcal/internal/api"
)

// StatusBar shows the profile, store totals, the current notice and key hints.
type StatusBar struct {
	*tview.TextView
	profile  string
	stats    *api.StatsResponse
	flash    string
	flashErr bool
	hints    []string
}

func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	sb := &StatusBar{TextView: tv, profile: profile}
	sb.render()
	return sb
}

func (sb *StatusBar) SetStats(s *api.StatsResponse) {
	sb.stats = s
	sb.render()
}

func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash, sb.flashErr = msg, isErr
	sb.render()
}

func (sb *StatusBar) SetHints(h []string) {
	sb.hints = h
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-]", sb.profile)
	if s := sb.stats; s != nil {
		line += fmt.Sprintf(" | %d msgs | %d events | %d tombstones", s.Messages, s.Events, s.Tombstones)
		if s.FleetRunning {
			line += " | [green]syncing[-]"
		}
		if s.NextWeeklyRun != nil {
			line += " | next " + s.NextWeeklyRun.Local().Format("Mon 15:04")
		}
	}
	line += " | " + time.Now().Format("15:04")
	if sb.flash != "" {
		color := "yellow"
		if sb.flashErr {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}
	if len(sb.hints) > 0 {
		line += "  [gray]" + strings.Join(sb.hints, " ") + "[-]"
	}
	_, _ = fmt.Fprint(sb, line)
}
