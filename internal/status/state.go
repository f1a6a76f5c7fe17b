package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppcal/internal/bus"
)

// State is a step of one chat sync.
type State string

const (
	Idle           State = "IDLE"
	Fetching       State = "FETCHING"
	Storing        State = "STORING"
	Sessionizing   State = "SESSIONIZING"
	Upserting      State = "UPSERTING"
	Done           State = "DONE"
	FailedUpstream State = "FAILED_UPSTREAM"
	FailedSink     State = "FAILED_SINK"
	FailedFatal    State = "FAILED_FATAL"
)

// validTransitions defines allowed state transitions. STORING may loop back
// to FETCHING for the next date chunk of a long window.
var validTransitions = map[State][]State{
	Idle:           {Fetching, FailedFatal},
	Fetching:       {Storing, FailedUpstream, FailedFatal},
	Storing:        {Fetching, Sessionizing, FailedFatal},
	Sessionizing:   {Upserting, FailedFatal},
	Upserting:      {Done, FailedSink, FailedFatal},
	FailedUpstream: {Fetching},
	FailedSink:     {Upserting},
	Done:           {},
	FailedFatal:    {},
}

// Terminal reports whether no further transition is expected in this attempt.
func (s State) Terminal() bool {
	switch s {
	case Done, FailedUpstream, FailedSink, FailedFatal:
		return true
	}
	return false
}

// Failed reports whether s is one of the failure states.
func (s State) Failed() bool {
	return s == FailedUpstream || s == FailedSink || s == FailedFatal
}

// Machine tracks and enforces the state of one chat sync.
type Machine struct {
	mu      sync.RWMutex
	chatID  string
	current State
	history []State
	bus     *bus.Bus
}

// NewMachine creates a machine for chatID starting in Idle.
func NewMachine(chatID string, b *bus.Bus) *Machine {
	return &Machine{
		chatID:  chatID,
		current: Idle,
		history: []State{Idle},
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns every state visited, in order.
func (m *Machine) History() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("chat %s: invalid transition from %s to %s", m.chatID, m.current, to)
	}
	from := m.current
	m.current = to
	m.history = append(m.history, to)
	m.bus.Emit(bus.KindChatState, StatusChange{
		ChatID: m.chatID,
		From:   from,
		To:     to,
	})
	return nil
}

// Fail moves to the failure state matching the current step: FAILED_UPSTREAM
// while fetching, FAILED_SINK while upserting, FAILED_FATAL otherwise or when
// fatal is set. A machine already in a terminal state is left alone.
func (m *Machine) Fail(fatal bool) State {
	cur := m.Current()
	if cur.Terminal() {
		return cur
	}
	to := FailedFatal
	switch {
	case fatal:
	case cur == Fetching:
		to = FailedUpstream
	case cur == Upserting:
		to = FailedSink
	}
	_ = m.Transition(to)
	return m.Current()
}

// StatusChange is the payload for chat state events.
type StatusChange struct {
	ChatID string
	From   State
	To     State
}
