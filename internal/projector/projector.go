// Package projector turns conversation sessions into calendar event payloads.
package projector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/wppcal/internal/calendar"
	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/session"
	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

const (
	contactEmoji = "💬"
	groupEmoji   = "👥"

	// MarkerFooterPrefix starts the last line of every description.
	MarkerFooterPrefix = "wppcal-marker: "
	mediaPlaceholder   = "[media]"
)

// Marker is the idempotency key of the event for a session: hex SHA-256 over
// chat id, start, end and first message id. Lowercase hex is also a valid
// calendar event id.
func Marker(chatID string, start, end time.Time, firstMessageID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		chatID,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
		firstMessageID)
	return hex.EncodeToString(h.Sum(nil))
}

// Projector builds payloads. It is immutable; build a new one on config change.
type Projector struct {
	reject       []string
	previewChars int
}

// New returns a projector using the reject patterns and preview length from cfg.
func New(cfg config.ProjectorConfig) *Projector {
	p := &Projector{previewChars: cfg.PreviewChars}
	if p.previewChars <= 0 {
		p.previewChars = 200
	}
	for _, pat := range cfg.RejectTitlePatterns {
		if pat = strings.TrimSpace(pat); pat != "" {
			p.reject = append(p.reject, strings.ToLower(pat))
		}
	}
	return p
}

// Title returns "💬 name" for contacts and "👥 name" for groups. An empty
// name falls back to the phone number or group id.
func Title(chat *store.Chat) string {
	emoji := contactEmoji
	if chat.Kind == store.KindGroup {
		emoji = groupEmoji
	}
	name := strings.TrimSpace(chat.DisplayName)
	if name == "" {
		name = chat.PhoneOrGroupID
	}
	if name == "" {
		name = store.LocalPart(chat.ChatID)
	}
	return emoji + " " + name
}

// Rejected reports whether title matches a reject pattern, ignoring case.
func (p *Projector) Rejected(title string) bool {
	lower := strings.ToLower(title)
	for _, pat := range p.reject {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// Project builds the payload for sess. A nil chat, or a title matching a
// reject pattern, yields a MissingChat error and no payload.
func (p *Projector) Project(chat *store.Chat, sess session.Session, sel store.Selection) (calendar.Payload, error) {
	if chat == nil {
		return calendar.Payload{}, &syncerr.Error{
			Kind:   syncerr.MissingChat,
			Op:     "project",
			ChatID: sess.ChatID,
			Err:    fmt.Errorf("no chat record"),
		}
	}
	title := Title(chat)
	if p.Rejected(title) {
		return calendar.Payload{}, &syncerr.Error{
			Kind:   syncerr.MissingChat,
			Op:     "project",
			ChatID: sess.ChatID,
			Err:    fmt.Errorf("placeholder title %q", title),
		}
	}

	marker := Marker(sess.ChatID, sess.Start, sess.End, sess.FirstMessageID)
	category := chat.Category
	if category == "" {
		category = string(chat.Kind)
	}
	return calendar.Payload{
		Marker:      marker,
		ChatID:      sess.ChatID,
		Category:    category,
		Title:       title,
		Description: p.describe(chat, sess, sel, marker),
		Start:       sess.Start.UTC(),
		End:         sess.End.UTC(),
	}, nil
}

func (p *Projector) describe(chat *store.Chat, sess session.Session, sel store.Selection, marker string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Messages: %d (%d in, %d out)\n", sess.MessageCount, sess.Inbound, sess.Outbound)
	fmt.Fprintf(&b, "Priority: %d\n", sel.Priority)
	if chat.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", chat.Category)
	}
	if chat.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", chat.Company)
	}
	fmt.Fprintf(&b, "First (%s): %s\n", sess.First.Timestamp.UTC().Format("15:04 MST"), p.preview(sess.First))
	if sess.MessageCount > 1 {
		fmt.Fprintf(&b, "Last (%s): %s\n", sess.Last.Timestamp.UTC().Format("15:04 MST"), p.preview(sess.Last))
	}
	b.WriteString("\n")
	b.WriteString(MarkerFooterPrefix + marker)
	return b.String()
}

// preview flattens whitespace and truncates to previewChars runes.
func (p *Projector) preview(m store.Message) string {
	text := strings.Join(strings.Fields(m.Body), " ")
	if text == "" {
		if m.HasMedia {
			return mediaPlaceholder
		}
		return "(empty)"
	}
	if m.HasMedia {
		text = mediaPlaceholder + " " + text
	}
	return Truncate(text, p.previewChars)
}

// Truncate cuts s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// MarkerFromDescription extracts the marker from a description footer.
func MarkerFromDescription(desc string) string {
	i := strings.LastIndex(desc, MarkerFooterPrefix)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(desc[i+len(MarkerFooterPrefix):])
}
