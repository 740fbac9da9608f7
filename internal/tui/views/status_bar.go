package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays persistent session and connection status.
type StatusBar struct {
	*tview.TextView
	session string
	link    string
	unread  int
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, link: "CONNECTING"}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetLink updates the realtime connection indicator.
func (sb *StatusBar) SetLink(state string) {
	sb.link = state
	sb.render()
}

// SetUnread updates the total unread counter.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	link := sb.link
	switch link {
	case "CONNECTED":
		link = "[green]" + link + "[-]"
	case "DEGRADED", "DISCONNECTED":
		link = "[red]" + link + "[-]"
	}

	unread := ""
	if sb.unread > 0 {
		unread = fmt.Sprintf(" | [yellow]%d unread[-]", sb.unread)
	}

	clock := time.Now().Format("15:04")

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s%s | %s", sb.session, link, unread, clock)
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
