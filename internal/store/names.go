package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Gateway id suffixes.
const (
	ContactSuffix = "@c.us"
	GroupSuffix   = "@g.us"
)

// KindOf classifies a gateway chat id by suffix. ok is false for ids that are
// neither contacts nor groups (broadcast lists, status, newsletters).
func KindOf(chatID string) (kind ChatKind, ok bool) {
	switch {
	case strings.HasSuffix(chatID, ContactSuffix):
		return KindContact, true
	case strings.HasSuffix(chatID, GroupSuffix):
		return KindGroup, true
	default:
		return "", false
	}
}

// LocalPart returns the phone number or group id portion of a chat id.
func LocalPart(chatID string) string {
	if i := strings.IndexByte(chatID, '@'); i >= 0 {
		return chatID[:i]
	}
	return chatID
}

// IsCleanName reports whether a display name is fit to be shown in a calendar
// title: non-empty, no pictographic symbols or emoji joiners, no stray
// trailing punctuation and no internal double spaces.
func IsCleanName(name string) bool {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return false
	}
	if strings.Contains(name, "  ") {
		return false
	}
	for _, r := range name {
		if isPictographic(r) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(name)
	if unicode.IsPunct(last) && !strings.ContainsRune(").'\"", last) {
		return false
	}
	return true
}

func isPictographic(r rune) bool {
	return unicode.Is(unicode.So, r) || r == unicode.ReplacementChar || IsEmojiModifier(r)
}

// IsEmojiModifier reports whether r only changes how a neighbouring emoji
// renders: skin tones, the zero width joiner and variation selectors.
// Terminals draw these as stray cells.
func IsEmojiModifier(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
