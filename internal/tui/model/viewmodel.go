// Package model holds the console's view of the daemon, fed by control calls
// and the event stream.
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppcal/internal/api"
)

// Control is the part of the daemon client the console uses.
type Control interface {
	Chats(ctx context.Context, req *api.ChatsRequest) (*api.ChatsResponse, error)
	Mark(ctx context.Context, req *api.MarkRequest) (*api.MarkResponse, error)
	RefreshChats(ctx context.Context) (*api.RefreshChatsResponse, error)
	Stats(ctx context.Context) (*api.StatsResponse, error)
	SyncChat(ctx context.Context, req *api.SyncChatRequest) (*api.SyncChatResponse, error)
	SyncAll(ctx context.Context, req *api.SyncAllRequest) (*api.SyncAllResponse, error)
	Watch(ctx context.Context, req *api.WatchRequest, fn func(*api.Envelope) error) error
}

// MaxEvents bounds the event log.
const MaxEvents = 500

// ViewModel caches daemon state for the views. Safe for concurrent use.
type ViewModel struct {
	mu sync.RWMutex

	control Control
	chats   []api.ChatView
	stats   *api.StatsResponse
	events  []api.Envelope
	Flash   Flash

	// changed is signalled (non-blocking) whenever state changes.
	changed chan struct{}
}

func NewViewModel(c Control) *ViewModel {
	return &ViewModel{control: c, changed: make(chan struct{}, 1)}
}

// Changed fires after any state update.
func (vm *ViewModel) Changed() <-chan struct{} { return vm.changed }

func (vm *ViewModel) signal() {
	select {
	case vm.changed <- struct{}{}:
	default:
	}
}

func (vm *ViewModel) LoadChats(ctx context.Context) error {
	resp, err := vm.control.Chats(ctx, &api.ChatsRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.chats = resp.Chats
	vm.mu.Unlock()
	vm.signal()
	return nil
}

func (vm *ViewModel) LoadStats(ctx context.Context) error {
	resp, err := vm.control.Stats(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.stats = resp
	vm.mu.Unlock()
	vm.signal()
	return nil
}

// RefreshChats asks the daemon to pull the gateway chat list, then reloads.
func (vm *ViewModel) RefreshChats(ctx context.Context) error {
	resp, err := vm.control.RefreshChats(ctx)
	if err != nil {
		return err
	}
	vm.Flash.Set(fmt.Sprintf("%d new, %d renamed", resp.Added, resp.Renamed), 5*time.Second)
	return vm.LoadChats(ctx)
}

// ToggleScope flips a chat in or out of scope.
func (vm *ViewModel) ToggleScope(ctx context.Context, chatID string) error {
	cur, ok := vm.chat(chatID)
	if !ok {
		return fmt.Errorf("unknown chat %s", chatID)
	}
	in := !cur.InScope
	return vm.mark(ctx, &api.MarkRequest{ChatID: chatID, InScope: &in})
}

// BumpPriority moves a chat's priority by delta, kept within 1..10.
func (vm *ViewModel) BumpPriority(ctx context.Context, chatID string, delta int) error {
	cur, ok := vm.chat(chatID)
	if !ok {
		return fmt.Errorf("unknown chat %s", chatID)
	}
	p := max(1, min(cur.Priority+delta, 10))
	if p == cur.Priority {
		return nil
	}
	return vm.mark(ctx, &api.MarkRequest{ChatID: chatID, Priority: &p})
}

// Tag sets company and category on a chat.
func (vm *ViewModel) Tag(ctx context.Context, chatID, company, category string) error {
	return vm.mark(ctx, &api.MarkRequest{ChatID: chatID, Company: company, Category: category})
}

func (vm *ViewModel) mark(ctx context.Context, req *api.MarkRequest) error {
	resp, err := vm.control.Mark(ctx, req)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	for i := range vm.chats {
		if vm.chats[i].ChatID != resp.ChatID {
			continue
		}
		vm.chats[i].InScope = resp.InScope
		vm.chats[i].Priority = resp.Priority
		if req.Company != "" {
			vm.chats[i].Company = req.Company
		}
		if req.Category != "" {
			vm.chats[i].Category = req.Category
		}
	}
	vm.mu.Unlock()
	vm.signal()
	return nil
}

// SyncChat runs one chat over [from, to] local days and flashes the outcome.
func (vm *ViewModel) SyncChat(ctx context.Context, chatID, from, to string) error {
	resp, err := vm.control.SyncChat(ctx, &api.SyncChatRequest{ChatID: chatID, From: from, To: to})
	if err != nil {
		return err
	}
	r := resp.Report
	vm.Flash.Set(fmt.Sprintf("%s: %s, %d created, %d existing", chatID, r.Outcome, r.EventsCreated, r.EventsExisting), 10*time.Second)
	vm.signal()
	return nil
}

// SyncAll runs the fleet over [from, to] local days and flashes the outcome.
func (vm *ViewModel) SyncAll(ctx context.Context, from, to string) error {
	resp, err := vm.control.SyncAll(ctx, &api.SyncAllRequest{From: from, To: to})
	if err != nil {
		return err
	}
	r := resp.Report
	vm.Flash.Set(fmt.Sprintf("fleet: %d synced, %d failed, %d events created", r.SuccessCount, r.FailureCount, r.EventsCreated), 10*time.Second)
	vm.signal()
	return nil
}

// Follow appends streamed events until ctx ends or the stream breaks.
func (vm *ViewModel) Follow(ctx context.Context) error {
	return vm.control.Watch(ctx, &api.WatchRequest{}, func(e *api.Envelope) error {
		vm.mu.Lock()
		vm.events = append(vm.events, *e)
		if over := len(vm.events) - MaxEvents; over > 0 {
			vm.events = append([]api.Envelope(nil), vm.events[over:]...)
		}
		vm.mu.Unlock()
		vm.signal()
		return nil
	})
}

func (vm *ViewModel) chat(chatID string) (api.ChatView, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.chats {
		if c.ChatID == chatID {
			return c, true
		}
	}
	return api.ChatView{}, false
}

// Chats returns a snapshot of the chat list.
func (vm *ViewModel) Chats() []api.ChatView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]api.ChatView(nil), vm.chats...)
}

// Stats returns the last loaded stats, or nil.
func (vm *ViewModel) Stats() *api.StatsResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.stats
}

// Events returns a snapshot of the event log, oldest first.
func (vm *ViewModel) Events() []api.Envelope {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]api.Envelope(nil), vm.events...)
}
