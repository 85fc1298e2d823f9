// Package tui renders the chat heads interface with tview: the
// conversation directory on the left, stacked head windows on the
// right, and a bubble rail for minimized chats. On narrow terminals
// the directory and the focused head swap as full-screen pages.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mvalente/tablechat/internal/app"
	"github.com/mvalente/tablechat/internal/bus"
	"github.com/mvalente/tablechat/internal/heads"
	"github.com/mvalente/tablechat/internal/tui/keys"
	"github.com/mvalente/tablechat/internal/tui/model"
	"github.com/mvalente/tablechat/internal/tui/views"
	"github.com/rivo/tview"
)

// Terminals narrower than this collapse to single-pane mode.
const narrowWidth = 100

// App is the TUI shell around a running engine.
type App struct {
	app      *tview.Application
	engine   *app.Engine
	registry *keys.Registry
	flash    model.Flash

	convList  *views.ConversationList
	rail      *views.BubbleRail
	statusBar *views.StatusBar
	windows   map[int64]*views.HeadWindow
	windowBox *tview.Flex
	pages     *tview.Pages
	narrow    bool
	focused   int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the TUI application around an engine the caller has
// already started.
func New(engine *app.Engine, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		engine:    engine,
		registry:  keys.NewRegistry(),
		convList:  views.NewConversationList(),
		rail:      views.NewBubbleRail(),
		statusBar: views.NewStatusBar(),
		windows:   make(map[int64]*views.HeadWindow),
		windowBox: tview.NewFlex().SetDirection(tview.FlexRow),
		pages:     tview.NewPages(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key:         tcell.KeyCtrlB,
		Description: "^b:bubble", Visible: true,
		Handler: func() { a.minimizeFocused() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key:         tcell.KeyCtrlW,
		Description: "^w:close", Visible: true,
		Handler: func() { a.closeFocused() },
	})
	a.registry.AddGlobal(&keys.Action{
		Key:         tcell.KeyCtrlK,
		Description: "^k:delete", Visible: true,
		Handler: func() { a.deleteFocused() },
	})
	a.registry.AddView("list", &keys.Action{
		Key:         tcell.KeyEnter,
		Description: "enter:open", Visible: true,
		Handler: func() { a.openSelected() },
	})
	a.statusBar.SetHints(a.registry.Hints("list"))
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		a.openSelected()
	})
}

func (a *App) setupLayout() {
	wide := tview.NewFlex().
		AddItem(a.convList, 0, 1, true).
		AddItem(a.windowBox, 0, 2, false)

	a.pages.AddPage("wide", wide, true, true)
	a.pages.AddPage("list", a.convList, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.rail, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		w, _ := screen.Size()
		narrow := w < narrowWidth
		if narrow != a.narrow {
			a.narrow = narrow
			a.applyMode()
		}
		return false
	})

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			a.focusList()
			return nil
		}
		if event.Key() == tcell.KeyTab {
			a.cycleFocus()
			return nil
		}

		view := "list"
		if a.focused != 0 {
			view = "head"
		}

		// Text input widgets own printable keys.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if event.Key() == tcell.KeyRune {
				return event
			}
		}

		if a.registry.HandleEvent(view, event) {
			return nil
		}
		return event
	})
}

// applyMode switches between the split layout and single-pane pages.
// Runs on the event loop goroutine only.
func (a *App) applyMode() {
	if !a.narrow {
		a.pages.SwitchToPage("wide")
		return
	}
	if a.focused != 0 {
		if hw, ok := a.windows[a.focused]; ok {
			a.pages.RemovePage("head")
			a.pages.AddPage("head", hw, true, true)
			return
		}
	}
	a.pages.SwitchToPage("list")
}

func (a *App) openSelected() {
	id := a.convList.Selected()
	if id == 0 {
		return
	}
	go func() {
		a.engine.Heads.Open(a.ctx, id)
		a.app.QueueUpdateDraw(func() {
			a.refresh()
			a.focusWindow(id)
		})
	}()
}

func (a *App) minimizeFocused() {
	id := a.focused
	if id == 0 {
		return
	}
	go func() {
		a.engine.Heads.ToggleMinimize(a.ctx, id)
		a.app.QueueUpdateDraw(func() {
			a.refresh()
			a.focusList()
		})
	}()
}

func (a *App) closeFocused() {
	id := a.focused
	if id == 0 {
		return
	}
	a.engine.Heads.Close(id)
	a.refresh()
	a.focusList()
}

func (a *App) deleteFocused() {
	id := a.focused
	if id == 0 {
		return
	}
	go func() {
		a.engine.Heads.Delete(a.ctx, id)
		a.app.QueueUpdateDraw(func() {
			a.refresh()
			a.focusList()
		})
	}()
}

func (a *App) focusList() {
	a.focused = 0
	if a.narrow {
		a.applyMode()
	}
	a.app.SetFocus(a.convList)
	a.statusBar.SetHints(a.registry.Hints("list"))
}

func (a *App) focusWindow(id int64) {
	hw, ok := a.windows[id]
	if !ok {
		return
	}
	a.focused = id
	if a.narrow {
		a.applyMode()
	}
	a.app.SetFocus(hw.Input())
	a.statusBar.SetHints(a.registry.Hints("head"))
}

func (a *App) cycleFocus() {
	var open []int64
	for _, h := range a.engine.Heads.Heads() {
		if h.State == heads.StateOpen && !h.Minimized {
			open = append(open, h.ConversationID)
		}
	}
	if len(open) == 0 {
		a.focusList()
		return
	}
	if a.focused == 0 {
		a.focusWindow(open[0])
		return
	}
	for i, id := range open {
		if id == a.focused {
			if i+1 < len(open) {
				a.focusWindow(open[i+1])
			} else {
				a.focusList()
			}
			return
		}
	}
	a.focusWindow(open[0])
}

// refresh re-renders every view from engine state. Must run on the
// event loop goroutine.
func (a *App) refresh() {
	dir := a.engine.Directory
	store := a.engine.Store

	a.convList.Update(dir.Conversations())

	hs := a.engine.Heads.Heads()
	live := make(map[int64]bool, len(hs))
	for _, h := range hs {
		if h.State != heads.StateOpen || h.Minimized {
			continue
		}
		live[h.ConversationID] = true
		hw, ok := a.windows[h.ConversationID]
		if !ok {
			hw = a.newWindow(h.ConversationID)
		}
		name := h.DisplayName
		if conv, found := dir.Get(h.ConversationID); found && conv.Other.Name != "" {
			name = conv.Other.Name
		}
		hw.SetTitle(name)
		hw.Update(store.Messages(h.ConversationID),
			store.Loading(h.ConversationID),
			store.Error(h.ConversationID),
			store.SendError(h.ConversationID))
	}
	for id, hw := range a.windows {
		if !live[id] {
			a.windowBox.RemoveItem(hw)
			delete(a.windows, id)
			if a.focused == id {
				a.focusList()
			}
		}
	}

	a.rail.Update(hs, dir.Get)
	a.statusBar.SetState(string(a.engine.Machine.Current()))
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) newWindow(id int64) *views.HeadWindow {
	hw := views.NewHeadWindow(id, a.engine.Config.User.ID)
	hw.SetOnSend(func(text string) {
		go func() {
			_ = a.engine.Composer.Send(a.ctx, id, text)
			a.app.QueueUpdateDraw(a.refresh)
		}()
	})
	hw.SetOnDraft(func(text string) {
		a.engine.Composer.SetDraft(id, text)
	})
	hw.SetDraft(a.engine.Composer.Draft(id))
	a.windows[id] = hw
	a.windowBox.AddItem(hw, 0, 1, false)
	return hw
}

// Run starts the event consumers and blocks on the terminal loop.
func (a *App) Run() error {
	ch, cancelSub := a.engine.Bus.Subscribe("", 128)
	go func() {
		defer cancelSub()
		for {
			select {
			case <-a.ctx.Done():
				return
			case evt := <-ch:
				a.handleEvent(evt)
			}
		}
	}()

	// Clock and flash expiry need a redraw even without events.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				a.app.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	a.app.QueueUpdateDraw(a.refresh)
	return a.app.Run()
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageSendFailed:
		if failure, ok := evt.Payload.(bus.SendFailure); ok {
			a.flash.Set("send failed: "+failure.Err, 5*time.Second)
		}
	case bus.KindDirectoryIncoming, bus.KindPushIncoming:
		if in, ok := evt.Payload.(bus.Incoming); ok {
			a.flash.Set("new message from "+in.DisplayName, 4*time.Second)
		}
	}
	a.app.QueueUpdateDraw(a.refresh)
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
