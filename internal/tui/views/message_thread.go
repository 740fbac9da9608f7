package views

import (
	"fmt"

	"github.com/glintapp/glint/internal/store"
	"github.com/rivo/tview"
)

// MessageThread displays the messages of a single conversation.
type MessageThread struct {
	*tview.TextView
	selfID string
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(selfID string) *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageThread{TextView: tv, selfID: selfID}
}

// SetConversationName updates the title.
func (mt *MessageThread) SetConversationName(name string) {
	mt.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update refreshes the thread with the conversation's messages.
func (mt *MessageThread) Update(msgs []store.Message) {
	mt.Clear()

	for _, m := range msgs {
		sender := m.Sender
		if sender == mt.selfID {
			sender = "You"
		}

		suffix := ""
		if m.Pending() {
			suffix = " [::d](sending)[-:-:-]"
		} else if m.Sender == mt.selfID && m.Seen {
			suffix = " [::d]seen[-:-:-]"
		}

		ts := formatTimestamp(m.CreatedAt)
		body := sanitizeForTerminal(renderBody(m))
		line := fmt.Sprintf("[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", sender, ts, suffix, body)
		_, _ = fmt.Fprint(mt, line)
	}

	mt.ScrollToEnd()
}

// renderBody returns the displayable text of a message: call markers and
// media attachments get a readable form, plain text passes through.
func renderBody(m store.Message) string {
	if m.CallMarker != nil {
		switch m.CallMarker.Kind {
		case store.MarkerCallStarted:
			return fmt.Sprintf("~ %s call", m.CallMarker.CallType)
		case store.MarkerCallMissed:
			return fmt.Sprintf("~ missed %s call", m.CallMarker.CallType)
		case store.MarkerCallDeclined:
			return fmt.Sprintf("~ declined %s call", m.CallMarker.CallType)
		}
	}
	if m.Media != nil {
		label := fmt.Sprintf("[%s] %s", m.Media.Kind, m.Media.URL)
		if m.Text != "" {
			return m.Text + "\n" + label
		}
		return label
	}
	return m.Text
}
