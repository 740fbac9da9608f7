// Package tui is the terminal frontend. It renders store snapshots, follows
// bus events for live updates, and drives sends and call actions from
// keyboard input.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glintapp/glint/internal/bus"
	"github.com/glintapp/glint/internal/call"
	"github.com/glintapp/glint/internal/store"
	"github.com/glintapp/glint/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	store     *store.Store
	machine   *call.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	composer  *views.Composer
	callView  *views.CallView

	activeConv string
	flashUntil time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(s *store.Store, m *call.Machine, b *bus.Bus, sessionName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		store:     s,
		machine:   m,
		bus:       b,
		logger:    logger,
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(s.SelfID()),
		thread:    views.NewMessageThread(s.SelfID()),
		composer:  views.NewComposer(),
		callView:  views.NewCallView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if conv, ok := a.convList.Selected(); ok {
			a.openConversation(conv)
		}
	})

	a.composer.SetOnSend(func(text string) {
		convID := a.activeConv
		if convID == "" {
			return
		}
		go func() {
			if _, err := a.store.Send(a.ctx, convID, store.Draft{Text: text}); err != nil {
				// The optimistic copy stays in the thread; just surface it.
				a.flash("Send failed: " + err.Error())
			}
			a.app.QueueUpdateDraw(func() {
				a.refreshThread()
			})
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("call", a.callView, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "chat" {
			a.activeConv = ""
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		if currentPage == "call" {
			return a.handleCallKey(event)
		}

		switch event.Rune() {
		case 'q':
			a.app.Stop()
			return nil
		case 'i':
			if currentPage == "chat" {
				a.app.SetFocus(a.composer.InputField)
				return nil
			}
		case 'R':
			a.store.MarkAllRead()
			return nil
		case 'c':
			a.startCall(call.TypeAudio)
			return nil
		case 'v':
			a.startCall(call.TypeVideo)
			return nil
		}

		return event
	})
}

func (a *App) handleCallKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'a':
		go func() {
			switch err := a.machine.AcceptCall(a.ctx); {
			case errors.Is(err, call.ErrCallSuperseded):
				a.flash("Call ended before it could be accepted")
			case err != nil:
				a.flash("Accept failed: " + err.Error())
			}
		}()
	case 'd':
		if err := a.machine.DeclineCall(); err != nil {
			a.flashNow("Decline failed: " + err.Error())
		}
	case 'm':
		a.machine.ToggleMute()
	case 'v':
		a.machine.ToggleCamera()
	case 'h':
		_ = a.machine.EndCall()
	default:
		return event
	}
	return nil
}

// startCall dials the counterpart of the visible conversation: the active
// thread, or the selected row on the list page.
func (a *App) startCall(t call.Type) {
	conv, ok := a.visibleConversation()
	if !ok {
		return
	}
	recipient := a.counterpart(conv)
	if recipient == "" {
		a.flashNow("No one to call in this conversation")
		return
	}
	go func() {
		if err := a.machine.StartCall(a.ctx, t, recipient, conv.ID); err != nil {
			a.flash("Call failed: " + err.Error())
		}
	}()
}

func (a *App) visibleConversation() (store.Conversation, bool) {
	if a.activeConv != "" {
		return a.store.Conversation(a.activeConv)
	}
	return a.convList.Selected()
}

func (a *App) counterpart(conv store.Conversation) string {
	for _, p := range conv.Participants {
		if p != a.store.SelfID() {
			return p
		}
	}
	return ""
}

func (a *App) openConversation(conv store.Conversation) {
	a.activeConv = conv.ID
	a.store.MarkConversationRead(conv.ID)

	name := a.counterpart(conv)
	if name == "" {
		name = conv.ID
	}
	a.thread.SetConversationName(name)
	a.refreshThread()
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.thread)
}

func (a *App) refreshThread() {
	if a.activeConv == "" {
		return
	}
	if conv, ok := a.store.Conversation(a.activeConv); ok {
		a.thread.Update(conv.Messages)
	}
}

// flash surfaces a transient status message from a background goroutine.
// Must not be called from the UI thread; use flashNow there instead.
func (a *App) flash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.flashNow(msg)
	})
}

func (a *App) flashNow(msg string) {
	a.flashUntil = time.Now().Add(5 * time.Second)
	a.statusBar.SetFlash(msg)
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	go a.followEvents(events)

	a.convList.Update(a.store.Conversations())
	a.statusBar.SetUnread(a.store.TotalUnread())

	return a.app.Run()
}

// followEvents applies bus events to the views. All widget mutation goes
// through QueueUpdateDraw.
func (a *App) followEvents(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-events:
			a.applyEvent(evt)
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.callView.Tick()
				if !a.flashUntil.IsZero() && time.Now().After(a.flashUntil) {
					a.flashUntil = time.Time{}
					a.statusBar.SetFlash("")
				}
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) applyEvent(evt bus.Event) {
	switch {
	case strings.HasPrefix(evt.Kind, "store."):
		a.app.QueueUpdateDraw(func() {
			a.convList.Update(a.store.Conversations())
			a.statusBar.SetUnread(a.store.TotalUnread())
			a.refreshThread()
		})
		if evt.Kind == bus.KindSendFailed {
			a.flash("Message not delivered, kept locally")
		}

	case evt.Kind == bus.KindCallStateChanged:
		snap, ok := evt.Payload.(call.Snapshot)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.callView.Update(snap)
			currentPage, _ := a.pages.GetFrontPage()
			if snap.Status != call.StatusIdle && currentPage != "call" {
				a.pages.SwitchToPage("call")
				a.app.SetFocus(a.callView)
			}
			if snap.Status == call.StatusIdle && currentPage == "call" {
				if a.activeConv != "" {
					a.pages.SwitchToPage("chat")
					a.app.SetFocus(a.thread)
				} else {
					a.pages.SwitchToPage("conversations")
					a.app.SetFocus(a.convList)
				}
			}
		})

	case strings.HasPrefix(evt.Kind, "transport."):
		state, _ := evt.Payload.(string)
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetLink(state)
		})

	case evt.Kind == bus.KindNotification:
		if text, ok := evt.Payload.(string); ok && text != "" {
			a.flash(text)
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
