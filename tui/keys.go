package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit      key.Binding
	NextTab   key.Binding
	PrevTab   key.Binding
	Select    key.Binding
	Toggle    key.Binding
	Stop      key.Binding
	Back      key.Binding
	Forward   key.Binding
	VolUp     key.Binding
	VolDown   key.Binding
	Mute      key.Binding
	Faster    key.Binding
	Slower    key.Binding
	Waveform  key.Binding
	Favorite  key.Binding
	Download  key.Binding
	Retry     key.Binding
	Dismiss   key.Binding
	Refresh   key.Binding
	Search    key.Binding
	Blur      key.Binding
	Reload    key.Binding
	Longer    key.Binding
	Shorter   key.Binding
	Device    key.Binding
	Precision key.Binding
	Help      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
		NextTab:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
		PrevTab:   key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev tab")),
		Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play/submit")),
		Toggle:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Stop:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Back:      key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "-5s")),
		Forward:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "+5s")),
		VolUp:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
		VolDown:   key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "volume down")),
		Mute:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
		Faster:    key.NewBinding(key.WithKeys(">"), key.WithHelp(">", "faster")),
		Slower:    key.NewBinding(key.WithKeys("<"), key.WithHelp("<", "slower")),
		Waveform:  key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "waveform")),
		Favorite:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "favorite")),
		Download:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "download")),
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Dismiss:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss")),
		Refresh:   key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "refresh")),
		Search:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Blur:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "leave input")),
		Reload:    key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "reload model")),
		Longer:    key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "+5s duration")),
		Shorter:   key.NewBinding(key.WithKeys("["), key.WithHelp("[", "-5s duration")),
		Device:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "device")),
		Precision: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "precision")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.Select, k.Toggle, k.Back, k.Forward, k.Favorite, k.Download, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextTab, k.PrevTab, k.Select, k.Search, k.Blur, k.Refresh},
		{k.Toggle, k.Stop, k.Back, k.Forward, k.Waveform},
		{k.VolUp, k.VolDown, k.Mute, k.Faster, k.Slower},
		{k.Favorite, k.Download, k.Retry, k.Dismiss, k.Reload},
		{k.Shorter, k.Longer, k.Device, k.Precision, k.Help, k.Quit},
	}
}
