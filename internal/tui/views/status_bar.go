package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the session name, engine state and key hints.
type StatusBar struct {
	*tview.TextView
	session string
	state   string
	flash   string
	hints   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetState updates the engine state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

// SetHints sets the key hint segment.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = strings.Join(hints, " ")
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	stateColor := "green"
	switch sb.state {
	case "AUTH_REQUIRED", "ERROR":
		stateColor = "red"
	case "DEGRADED", "BOOTING":
		stateColor = "yellow"
	case "DISABLED":
		stateColor = "gray"
	}

	clock := time.Now().Format("15:04")
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | %s", sb.session, stateColor, sb.state, clock)
	if sb.hints != "" {
		line += " | " + sb.hints
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", sb.flash)
	}

	_, _ = fmt.Fprint(sb, line)
}
