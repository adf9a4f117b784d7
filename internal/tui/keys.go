package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists every binding the review screen understands. It implements
// help.KeyMap so the footer stays in sync with Update.
type keyMap struct {
	PrevRun     key.Binding
	NextRun     key.Binding
	FirstRun    key.Binding
	LastRun     key.Binding
	PrevSubject key.Binding
	NextSubject key.Binding
	NextStep    key.Binding
	PrevStep    key.Binding
	Failed      key.Binding
	Maybe       key.Binding
	Passed      key.Binding
	Clear       key.Binding
	Note        key.Binding
	Open        key.Binding
	Rescan      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		PrevRun: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "prev run"),
		),
		NextRun: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next run"),
		),
		FirstRun: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "first run"),
		),
		LastRun: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "last run"),
		),
		PrevSubject: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "prev subject"),
		),
		NextSubject: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "next subject"),
		),
		NextStep: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next step"),
		),
		PrevStep: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "prev step"),
		),
		Failed: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "failed"),
		),
		Maybe: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "maybe"),
		),
		Passed: key.NewBinding(
			key.WithKeys("3"),
			key.WithHelp("3", "passed"),
		),
		Clear: key.NewBinding(
			key.WithKeys("0"),
			key.WithHelp("0", "clear"),
		),
		Note: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "note"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open figure"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
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

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PrevRun, k.NextRun, k.NextStep, k.Passed, k.Failed, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PrevRun, k.NextRun, k.FirstRun, k.LastRun, k.PrevSubject, k.NextSubject},
		{k.NextStep, k.PrevStep, k.Open, k.Rescan},
		{k.Failed, k.Maybe, k.Passed, k.Clear, k.Note},
		{k.Help, k.Quit},
	}
}
