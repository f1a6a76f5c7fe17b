// Package views renders the console's widgets.
package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/wppcal/internal/api"
)

// ChatTable lists chats with their scope and priority.
type ChatTable struct {
	*tview.Table
	chats []api.ChatView
}

var chatColumns = []string{"", "PRI", "NAME", "KIND", "COMPANY", "CATEGORY", "ID"}

func NewChatTable() *ChatTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Chats ")
	return &ChatTable{Table: table}
}

// Update redraws the table and keeps the cursor on the same chat when it is
// still listed.
func (ct *ChatTable) Update(chats []api.ChatView) {
	selected := ct.Selected()
	ct.chats = chats
	ct.Clear()

	for col, h := range chatColumns {
		ct.SetCell(0, col, tview.NewTableCell(" "+h).
			SetSelectable(false).
			SetTextColor(tview.Styles.SecondaryTextColor))
	}

	inScope := 0
	cursor := 1
	for i, c := range chats {
		row := i + 1
		mark := " "
		color := tview.Styles.PrimaryTextColor
		if c.InScope {
			mark = "●"
			inScope++
		} else {
			color = tcell.ColorGray
		}
		name := sanitizeForTerminal(c.DisplayName)
		if name == "" {
			name = c.ChatID
		}
		if !c.CleanName {
			name += " ?"
		}
		cells := []string{mark, fmt.Sprintf("%2d", c.Priority), name, c.Kind, c.Company, c.Category, c.ChatID}
		for col, text := range cells {
			cell := tview.NewTableCell(" " + text).SetTextColor(color)
			if col == 2 {
				cell.SetMaxWidth(32).SetExpansion(1)
			}
			ct.SetCell(row, col, cell)
		}
		if c.ChatID == selected {
			cursor = row
		}
	}
	ct.SetTitle(fmt.Sprintf(" Chats [%d in scope / %d] ", inScope, len(chats)))
	if len(chats) > 0 {
		ct.Select(cursor, 0)
	}
}

// Selected returns the chat id under the cursor, or "".
func (ct *ChatTable) Selected() string {
	row, _ := ct.GetSelection()
	if idx := row - 1; idx >= 0 && idx < len(ct.chats) {
		return ct.chats[idx].ChatID
	}
	return ""
}

// Filter keeps the chats whose name, id, company or category contains q,
// case-insensitively.
func Filter(chats []api.ChatView, q string) []api.ChatView {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return chats
	}
	var out []api.ChatView
	for _, c := range chats {
		hay := strings.ToLower(strings.Join([]string{c.DisplayName, c.ChatID, c.Company, c.Category}, "\x00"))
		if strings.Contains(hay, q) {
			out = append(out, c)
		}
	}
	return out
}
