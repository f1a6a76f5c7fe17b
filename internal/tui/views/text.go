package views

import (
	"strings"

	"github.com/matheus3301/wppcal/internal/store"
)

// sanitizeForTerminal drops emoji modifiers so a base emoji renders as one
// two-cell character in tview.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if store.IsEmojiModifier(r) {
			return -1
		}
		return r
	}, s)
}
