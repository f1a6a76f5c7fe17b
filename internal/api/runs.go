package api

import (
	"context"
	"sync"
)

// runs tracks the sync runs started over the control surface so a Cancel
// call can stop them while their callers still wait for the report.
type runs struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelFunc
}

func newRuns() *runs {
	return &runs{cancels: make(map[uint64]context.CancelFunc)}
}

// start derives the context a run executes on. It ends on cancelAll, or
// when the caller's request ends since nobody is left to read the report.
func (r *runs) start(caller context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(caller)

	r.mu.Lock()
	id := r.next
	r.next++
	r.cancels[id] = cancel
	r.mu.Unlock()

	return ctx, func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
	}
}

// cancelAll cancels every active run and returns how many there were.
func (r *runs) cancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	return len(r.cancels)
}
