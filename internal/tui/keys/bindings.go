// Package keys maps key presses to console actions.
package keys

import "github.com/gdamore/tcell/v2"

// Action is one key binding.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Hint    string // shown in the status bar when set
	Handler func()
}

// Matches reports whether ev triggers a.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds global bindings and per-page bindings, in the order they
// were added.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// Global registers a binding active on every page.
func (r *Registry) Global(a *Action) { r.global = append(r.global, a) }

// Page registers a binding active on one page. Page bindings win over
// global ones.
func (r *Registry) Page(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints returns the hints for page, page bindings first.
func (r *Registry) Hints(page string) []string {
	var hints []string
	for _, a := range append(append([]*Action(nil), r.pages[page]...), r.global...) {
		if a.Hint != "" {
			hints = append(hints, a.Hint)
		}
	}
	return hints
}

// Handle runs the first binding on page matching ev and reports whether one did.
func (r *Registry) Handle(page string, ev *tcell.EventKey) bool {
	for _, set := range [][]*Action{r.pages[page], r.global} {
		for _, a := range set {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
