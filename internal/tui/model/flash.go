package model

import (
	"sync"
	"time"
)

// Flash is a status-bar notice that disappears after a while.
type Flash struct {
	mu      sync.RWMutex
	message string
	isErr   bool
	expires time.Time
}

// Set shows msg for d.
func (f *Flash) Set(msg string, d time.Duration) { f.set(msg, false, d) }

// Error shows err for ten seconds.
func (f *Flash) Error(err error) { f.set(err.Error(), true, 10*time.Second) }

func (f *Flash) set(msg string, isErr bool, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.isErr = isErr
	f.expires = time.Now().Add(d)
}

// Get returns the current notice, or "" once it expired.
func (f *Flash) Get() string {
	msg, _ := f.Current()
	return msg
}

// Current returns the notice and whether it reports an error.
func (f *Flash) Current() (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return "", false
	}
	return f.message, f.isErr
}
