package views

import (
	"fmt"

	"github.com/mvalente/tablechat/internal/chat"
	"github.com/mvalente/tablechat/internal/heads"
	"github.com/rivo/tview"
)

// BubbleRail renders minimized heads as a single row of bubbles with
// unread badges, like the mobile overlay this UI mimics.
type BubbleRail struct {
	*tview.TextView
}

// NewBubbleRail creates an empty rail.
func NewBubbleRail() *BubbleRail {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &BubbleRail{TextView: tv}
}

// Update re-renders the rail from the current heads and directory
// snapshot. Only minimized open heads appear.
func (br *BubbleRail) Update(hs []heads.Head, lookup func(int64) (chat.Conversation, bool)) {
	br.Clear()

	shown := 0
	for _, h := range hs {
		if h.State != heads.StateOpen || !h.Minimized {
			continue
		}
		name := h.DisplayName
		var unread int
		if conv, ok := lookup(h.ConversationID); ok {
			unread = conv.UnreadCount
			if conv.Other.Name != "" {
				name = conv.Other.Name
			}
		}
		badge := ""
		if unread > 0 {
			badge = fmt.Sprintf("[red](%d)[-]", unread)
		}
		fmt.Fprintf(br, " [::b](%s)%s[-:-:-] ", initials(name), badge)
		shown++
	}

	if shown == 0 {
		fmt.Fprint(br, " [::d]no minimized chats[-:-:-]")
	}
}

func initials(name string) string {
	runes := []rune(name)
	if len(runes) == 0 {
		return "?"
	}
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}
