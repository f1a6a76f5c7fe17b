// Package tui is an interactive operator console for a running wppcald: pick
// which chats are synced, trigger runs and watch what the daemon does.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/wppcal/internal/tui/keys"
	"github.com/matheus3301/wppcal/internal/tui/model"
	"github.com/matheus3301/wppcal/internal/tui/views"
)

const (
	pageMain   = "main"
	pagePrompt = "prompt"
)

// App is the console shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	registry  *keys.Registry
	statusBar *views.StatusBar
	chats     *views.ChatTable
	events    *views.EventLog
	prompt    *tview.InputField
	filter    string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the console for profile over control.
func NewApp(control model.Control, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(control),
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(profile),
		chats:     views.NewChatTable(),
		events:    views.NewEventLog(),
		prompt:    tview.NewInputField().SetLabel(":"),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.setupBindings()
	a.setupLayout()
	a.statusBar.SetHints(a.registry.Hints(pageMain))
	return a
}

func (a *App) setupBindings() {
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: a.Stop})
	a.registry.Global(&keys.Action{Key: tcell.KeyRune, Rune: ':', Hint: ":cmd", Handler: a.showPrompt})
	a.registry.Global(&keys.Action{Key: tcell.KeyTab, Hint: "tab:events", Handler: a.toggleFocus})

	a.registry.Page(pageMain, &keys.Action{Key: tcell.KeyRune, Rune: ' ', Hint: "space:scope", Handler: func() {
		a.onSelected(func(ctx context.Context, id string) error { return a.vm.ToggleScope(ctx, id) })
	}})
	a.registry.Page(pageMain, &keys.Action{Key: tcell.KeyRune, Rune: '+', Hint: "+/-:priority", Handler: func() {
		a.onSelected(func(ctx context.Context, id string) error { return a.vm.BumpPriority(ctx, id, 1) })
	}})
	a.registry.Page(pageMain, &keys.Action{Key: tcell.KeyRune, Rune: '-', Handler: func() {
		a.onSelected(func(ctx context.Context, id string) error { return a.vm.BumpPriority(ctx, id, -1) })
	}})
	a.registry.Page(pageMain, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Hint: "r:refresh", Handler: func() {
		a.background(a.vm.RefreshChats)
	}})
}

func (a *App) setupLayout() {
	body := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chats, 0, 3, true).
		AddItem(a.events, 0, 1, false)

	a.prompt.SetDoneFunc(func(key tcell.Key) {
		line := a.prompt.GetText()
		a.prompt.SetText("")
		a.pages.HidePage(pagePrompt)
		a.app.SetFocus(a.chats)
		if key == tcell.KeyEnter {
			a.run(ParseCommand(line))
		}
	})
	promptBox := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(a.prompt, 1, 0, true)

	a.pages.AddPage(pageMain, body, true, true)
	a.pages.AddPage(pagePrompt, promptBox, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return ev
		}
		if a.registry.Handle(pageMain, ev) {
			return nil
		}
		return ev
	})
}

func (a *App) toggleFocus() {
	if a.app.GetFocus() == a.chats {
		a.app.SetFocus(a.events)
		return
	}
	a.app.SetFocus(a.chats)
}

func (a *App) showPrompt() {
	a.pages.ShowPage(pagePrompt)
	a.app.SetFocus(a.prompt)
}

func (a *App) run(cmd Command) {
	switch cmd.Name {
	case "":
	case "q", "quit":
		a.Stop()
	case "filter":
		a.filter = strings.Join(cmd.Args, " ")
		a.redraw()
	case "sync":
		from, to, err := windowArgs(cmd.Args, time.Now())
		if err != nil {
			a.vm.Flash.Error(err)
			a.redraw()
			return
		}
		a.vm.Flash.Set(fmt.Sprintf("syncing %s..%s", from, to), time.Minute)
		a.background(func(ctx context.Context) error { return a.vm.SyncAll(ctx, from, to) })
	case "sync-chat":
		from, to, err := windowArgs(cmd.Args, time.Now())
		if err != nil {
			a.vm.Flash.Error(err)
			a.redraw()
			return
		}
		a.onSelected(func(ctx context.Context, id string) error { return a.vm.SyncChat(ctx, id, from, to) })
	case "tag":
		if len(cmd.Args) == 0 || len(cmd.Args) > 2 {
			a.vm.Flash.Error(errors.New("usage: tag <company> [category]"))
			a.redraw()
			return
		}
		company, category := cmd.Args[0], ""
		if len(cmd.Args) == 2 {
			category = cmd.Args[1]
		}
		a.onSelected(func(ctx context.Context, id string) error { return a.vm.Tag(ctx, id, company, category) })
	default:
		a.vm.Flash.Set(commandHelp, 10*time.Second)
		a.redraw()
	}
}

// onSelected runs fn for the chat under the cursor off the UI goroutine.
func (a *App) onSelected(fn func(ctx context.Context, chatID string) error) {
	id := a.chats.Selected()
	if id == "" {
		return
	}
	a.background(func(ctx context.Context) error { return fn(ctx, id) })
}

func (a *App) background(fn func(ctx context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil {
			a.vm.Flash.Error(err)
			a.app.QueueUpdateDraw(a.redraw)
		}
	}()
}

// redraw copies view-model state into the widgets. UI goroutine only.
func (a *App) redraw() {
	a.chats.Update(views.Filter(a.vm.Chats(), a.filter))
	a.events.Update(a.vm.Events())
	a.statusBar.SetStats(a.vm.Stats())
	a.statusBar.SetFlash(a.vm.Flash.Current())
}

// Run loads initial state, follows the event stream and blocks until quit.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadChats(a.ctx); err != nil {
			a.vm.Flash.Error(err)
		}
		_ = a.vm.LoadStats(a.ctx)
		a.app.QueueUpdateDraw(a.redraw)
	}()
	go func() {
		if err := a.vm.Follow(a.ctx); err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Error(fmt.Errorf("event stream: %w", err))
		}
	}()
	go a.loop()
	return a.app.Run()
}

// loop redraws on state changes and polls stats every five seconds.
func (a *App) loop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.Changed():
		case <-ticker.C:
			_ = a.vm.LoadStats(a.ctx)
		}
		a.app.QueueUpdateDraw(a.redraw)
	}
}

// Stop shuts the console down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
