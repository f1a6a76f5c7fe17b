package keys

import (
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestPageBindingWinsOverGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'r', Hint: "r:refresh", Handler: func() { got = "global" }})
	r.Page("chats", &Action{Key: tcell.KeyRune, Rune: 'r', Hint: "r:reload chats", Handler: func() { got = "page" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)
	if !r.Handle("chats", ev) || got != "page" {
		t.Errorf("chats page: got %q", got)
	}
	if !r.Handle("events", ev) || got != "global" {
		t.Errorf("events page: got %q", got)
	}
	if r.Handle("events", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key handled")
	}
}

func TestSpecialKeys(t *testing.T) {
	r := NewRegistry()
	hit := false
	r.Global(&Action{Key: tcell.KeyTab, Handler: func() { hit = true }})
	if !r.Handle("chats", tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone)) || !hit {
		t.Error("tab not handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.Global(&Action{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: func() {}})
	r.Page("chats", &Action{Key: tcell.KeyRune, Rune: ' ', Hint: "space:scope", Handler: func() {}})
	r.Page("chats", &Action{Key: tcell.KeyRune, Rune: '+', Handler: func() {}})
	want := []string{"space:scope", "q:quit"}
	if got := r.Hints("chats"); !reflect.DeepEqual(got, want) {
		t.Errorf("hints = %v, want %v", got, want)
	}
}
