package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/glintapp/glint/internal/store"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation list view (K9s-inspired table).
type ConversationList struct {
	*tview.Table
	convs  []store.Conversation
	selfID string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(selfID string) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &ConversationList{Table: table, selfID: selfID}
}

// Update refreshes the list with new data.
func (cl *ConversationList) Update(convs []store.Conversation) {
	cl.convs = convs
	cl.Clear()

	// Header row.
	cl.SetCell(0, 0, tview.NewTableCell(" With").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, conv := range convs {
		row := i + 1
		name := cl.displayName(conv)
		if conv.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, conv.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+preview(conv)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(conv.LastMessageAt)).SetMaxWidth(12))
	}
}

// Selected returns the currently selected conversation, if any.
func (cl *ConversationList) Selected() (store.Conversation, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx], true
	}
	return store.Conversation{}, false
}

func (cl *ConversationList) displayName(conv store.Conversation) string {
	var others []string
	for _, p := range conv.Participants {
		if p != cl.selfID {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return conv.ID
	}
	return strings.Join(others, ", ")
}

func preview(conv store.Conversation) string {
	if len(conv.Messages) == 0 {
		return ""
	}
	last := conv.Messages[len(conv.Messages)-1]
	return sanitizeForTerminal(renderBody(last))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
