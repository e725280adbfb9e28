package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

type keyMap struct {
	Quit     key.Binding
	Help     key.Binding
	Escape   key.Binding
	Submit   key.Binding
	NextView key.Binding
	PrevView key.Binding
	Logout   key.Binding

	Generate key.Binding
	ResetRun key.Binding
	Copy     key.Binding
	Download key.Binding
	StyleUp  key.Binding
	StyleDn  key.Binding

	RowUp    key.Binding
	RowDn    key.Binding
	Delete   key.Binding
	ClearAll key.Binding
	Filter   key.Binding
	Refresh  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Help:     key.NewBinding(key.WithKeys("alt+h"), key.WithHelp("alt+h", "help")),
		Escape:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss / back")),
		Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
		NextView: key.NewBinding(key.WithKeys("alt+right", "alt+n"), key.WithHelp("alt+n", "next view")),
		PrevView: key.NewBinding(key.WithKeys("alt+left", "alt+p"), key.WithHelp("alt+p", "previous view")),
		Logout:   key.NewBinding(key.WithKeys("alt+q"), key.WithHelp("alt+q", "log out")),

		Generate: key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "generate caption")),
		ResetRun: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "start over")),
		Copy:     key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy caption")),
		Download: key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "download image")),
		StyleUp:  key.NewBinding(key.WithKeys("up"), key.WithHelp("up", "previous style")),
		StyleDn:  key.NewBinding(key.WithKeys("down"), key.WithHelp("down", "next style")),

		RowUp:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "previous row")),
		RowDn:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "next row")),
		Delete:   key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "delete row")),
		ClearAll: key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "clear history")),
		Filter:   key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "cycle style filter")),
		Refresh:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reload")),
	}
}

type helpModel struct {
	theme Theme
	keys  keyMap
}

func newHelpModel(theme Theme, keys keyMap) helpModel {
	return helpModel{theme: theme, keys: keys}
}

func (h helpModel) View(width int) string {
	sections := []struct {
		title string
		rows  [][2]string
	}{
		{"Global", [][2]string{
			{h.keys.Help.Help().Key, h.keys.Help.Help().Desc},
			{h.keys.NextView.Help().Key, h.keys.NextView.Help().Desc},
			{h.keys.PrevView.Help().Key, h.keys.PrevView.Help().Desc},
			{h.keys.Logout.Help().Key, h.keys.Logout.Help().Desc},
			{h.keys.Quit.Help().Key, h.keys.Quit.Help().Desc},
		}},
		{"Dashboard", [][2]string{
			{"enter", "upload the typed image path"},
			{"up/down", "choose a caption style"},
			{"tab", "focus the custom description"},
			{h.keys.Generate.Help().Key, h.keys.Generate.Help().Desc},
			{h.keys.Copy.Help().Key, h.keys.Copy.Help().Desc},
			{h.keys.Download.Help().Key, h.keys.Download.Help().Desc},
			{h.keys.ResetRun.Help().Key, h.keys.ResetRun.Help().Desc},
		}},
		{"History", [][2]string{
			{"type", "search captions"},
			{h.keys.Filter.Help().Key, h.keys.Filter.Help().Desc},
			{"up/down", "move between rows"},
			{h.keys.Delete.Help().Key, h.keys.Delete.Help().Desc},
			{h.keys.ClearAll.Help().Key, h.keys.ClearAll.Help().Desc},
			{h.keys.Copy.Help().Key, "copy selected caption"},
			{h.keys.Download.Help().Key, "download selected image"},
		}},
	}

	keyStyle := lipgloss.NewStyle().Bold(true).Foreground(h.theme.Accent).Width(12)
	var b strings.Builder
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(h.theme.PaneTitle.Render(sec.title) + "\n")
		for _, row := range sec.rows {
			b.WriteString("  " + keyStyle.Render(row[0]) + row[1] + "\n")
		}
	}

	box := h.theme.Pane.Width(min(width-2, 64))
	return box.Render(strings.TrimRight(b.String(), "\n"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
