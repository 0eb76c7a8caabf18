package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the panel's key bindings.
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Skip    key.Binding
	Open    key.Binding
	Restart key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "browse up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "browse down"),
	),
	Skip: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "skip"),
	),
	Open: key.NewBinding(
		key.WithKeys("o", "enter"),
		key.WithHelp("o", "open"),
	),
	Restart: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "restart"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// keyBarText renders the key hints. Open is offered only when the
// selected row can be entered.
func keyBarText(canOpen bool) string {
	bar := keyStyle.Render("↑↓") + keyDescStyle.Render(":browse") + "  " +
		keyStyle.Render("s") + keyDescStyle.Render(":skip") + "  "
	if canOpen {
		bar += keyStyle.Render("o") + keyDescStyle.Render(":open") + "  "
	}
	return bar + keyStyle.Render("r") + keyDescStyle.Render(":restart") + "  " +
		keyStyle.Render("q") + keyDescStyle.Render(":quit")
}
