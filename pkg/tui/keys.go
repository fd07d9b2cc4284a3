package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the emulator keybindings.
type KeyMap struct {
	Toggle    key.Binding
	Detect    key.Binding
	Advertise key.Binding
	Clear     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Toggle: key.NewBinding(
			key.WithKeys(" ", "t"),
			key.WithHelp("space", "open/close"),
		),
		Detect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "blister pack"),
		),
		Advertise: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "advertise"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear messages"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings to show in the help view.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Detect, k.Advertise, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Detect},
		{k.Advertise, k.Clear},
		{k.Help, k.Quit},
	}
}
