package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/mvalente/tablechat/internal/chat"
	"github.com/rivo/tview"
)

// HeadWindow renders one open chat head: the message history on top
// and a one-line input below.
type HeadWindow struct {
	*tview.Flex
	ConversationID int64

	history *tview.TextView
	input   *tview.InputField
	onSend  func(text string)
	onDraft func(text string)
	self    int64
}

// NewHeadWindow creates a window for one conversation.
func NewHeadWindow(conversationID, self int64) *HeadWindow {
	history := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)

	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(history, 0, 1, false).
		AddItem(input, 1, 0, true)
	flex.SetBorder(true)

	hw := &HeadWindow{
		Flex:           flex,
		ConversationID: conversationID,
		history:        history,
		input:          input,
		self:           self,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && hw.onSend != nil {
			text := input.GetText()
			if text != "" {
				hw.onSend(text)
				input.SetText("")
			}
		}
	})
	input.SetChangedFunc(func(text string) {
		if hw.onDraft != nil {
			hw.onDraft(text)
		}
	})

	return hw
}

// SetOnSend sets the callback for a submitted message.
func (hw *HeadWindow) SetOnSend(fn func(text string)) {
	hw.onSend = fn
}

// SetOnDraft sets the callback fired on every input change, so drafts
// survive minimize and close.
func (hw *HeadWindow) SetOnDraft(fn func(text string)) {
	hw.onDraft = fn
}

// SetTitle updates the window title with the counterpart's name.
func (hw *HeadWindow) SetTitle(name string) {
	hw.Flex.SetTitle(fmt.Sprintf(" %s ", name))
}

// SetDraft restores a saved draft into the input without firing the
// draft callback.
func (hw *HeadWindow) SetDraft(text string) {
	onDraft := hw.onDraft
	hw.onDraft = nil
	hw.input.SetText(text)
	hw.onDraft = onDraft
}

// Input exposes the input field for focus handling.
func (hw *HeadWindow) Input() *tview.InputField {
	return hw.input
}

// Update re-renders the history. Optimistic messages show a pending
// marker; sendErr, when set, renders as an inline failure line.
func (hw *HeadWindow) Update(msgs []chat.Message, loading bool, fetchErr, sendErr string) {
	hw.history.Clear()

	if loading && len(msgs) == 0 {
		fmt.Fprint(hw.history, "[::d]loading...[-:-:-]\n")
	}
	if fetchErr != "" && len(msgs) == 0 {
		fmt.Fprintf(hw.history, "[red]could not load messages: %s[-]\n", fetchErr)
	}

	for _, m := range msgs {
		sender := "Them"
		if m.SenderID == hw.self {
			sender = "You"
		}
		marker := ""
		if m.Optimistic {
			marker = " [::d](sending)[-:-:-]"
		}
		ts := formatTimestamp(m.CreatedAt.UnixMilli())
		fmt.Fprintf(hw.history, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			sender, ts, marker, sanitizeForTerminal(m.Body))
	}

	if sendErr != "" {
		fmt.Fprintf(hw.history, "[red]send failed: %s[-]\n", sendErr)
	}

	hw.history.ScrollToEnd()
}
