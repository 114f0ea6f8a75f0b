package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the reveal view bindings.
type KeyMap struct {
	Skip  key.Binding
	Sound key.Binding
	Quit  key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Skip: key.NewBinding(
			key.WithKeys("s", "enter", "esc"),
			key.WithHelp("s/enter", "skip"),
		),
		Sound: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "sound"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown under the text.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Skip, k.Sound, k.Quit}
}
