package views

import (
	"fmt"
	"time"

	"github.com/mvalente/tablechat/internal/chat"
	"github.com/rivo/tview"
)

// ConversationList is the directory table: one row per conversation
// with name, last message preview and unread badge.
type ConversationList struct {
	*tview.Table
	convs      []chat.Conversation
	selectedFn func() (int, int)
}

// NewConversationList creates the directory table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table with a new directory snapshot.
func (cl *ConversationList) Update(convs []chat.Conversation) {
	row, col := cl.selectedFn()
	cl.convs = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, conv := range convs {
		r := i + 1
		name := conv.Other.Name
		if name == "" {
			name = fmt.Sprintf("user %d", conv.Other.ID)
		}
		if conv.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, conv.UnreadCount)
		}

		preview := sanitizeForTerminal(conv.LastMessage.Body)
		var at int64
		if !conv.LastMessage.At.IsZero() {
			at = conv.LastMessage.At.UnixMilli()
		}

		cl.SetCell(r, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(r, 1, tview.NewTableCell(" "+preview).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(r, 2, tview.NewTableCell(" "+formatTimestamp(at)).SetMaxWidth(12))
	}

	// Keep the cursor where the user left it when the snapshot grows
	// or shrinks around it.
	if row > len(convs) {
		row = len(convs)
	}
	if row < 1 {
		row = 1
	}
	if len(convs) > 0 {
		cl.Select(row, col)
	}
}

// Selected returns the conversation id of the highlighted row, or 0.
func (cl *ConversationList) Selected() int64 {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return 0
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
