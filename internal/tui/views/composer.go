package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the single-line input where outgoing messages are typed.
// Enter hands the text to the send callback and clears the field; a blank
// field swallows the keypress.
type Composer struct {
	*tview.InputField
	onSend func(text string)
}

// NewComposer creates a composer with no send callback wired yet.
func NewComposer() *Composer {
	c := &Composer{
		InputField: tview.NewInputField().
			SetLabel(" > ").
			SetFieldWidth(0),
	}
	c.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		c.submit()
	})
	return c
}

// SetOnSend registers the callback invoked with the composed text.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

func (c *Composer) submit() {
	text := strings.TrimSpace(c.GetText())
	if text == "" || c.onSend == nil {
		return
	}
	c.onSend(text)
	c.SetText("")
}
