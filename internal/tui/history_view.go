package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"captionit/internal/api"
	"captionit/internal/app"
	"captionit/internal/history"
	"captionit/internal/upload"
)

type histLoadedMsg struct{ err error }

type histDeleteDoneMsg struct {
	id  string
	err error
}

type histClearDoneMsg struct{ err error }

type histCopiedMsg struct{ err error }

// histModel renders the saved generations. Search and the style filter are
// applied locally by the controller; this model owns only the cursor and the
// clear-all confirmation.
type histModel struct {
	app   *app.Application
	theme Theme
	keys  keyMap

	width  int
	height int

	search       textinput.Model
	filterIdx    int
	cursor       int
	confirmClear bool
	notice       string
}

func newHistModel(application *app.Application, theme Theme, keys keyMap) histModel {
	search := textinput.New()
	search.Placeholder = "search captions..."
	search.CharLimit = 128
	search.Prompt = "/ "
	search.Focus()

	return histModel{
		app:    application,
		theme:  theme,
		keys:   keys,
		search: search,
	}
}

func (h *histModel) setSize(w, ht int) {
	h.width, h.height = w, ht
	inner := w - 8
	if inner < 20 {
		inner = 20
	}
	h.search.Width = inner
}

// filterChoices is FilterAll plus every style id the workflow knows about.
func (h histModel) filterChoices() []string {
	choices := []string{history.FilterAll}
	for _, s := range h.app.Workflow.Snapshot().Styles {
		choices = append(choices, s.ID)
	}
	return choices
}

func (h histModel) loadCmd() tea.Cmd {
	ctrl := h.app.History
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return histLoadedMsg{err: ctrl.Load(ctx)}
	}
}

func (h histModel) deleteCmd(id string) tea.Cmd {
	ctrl := h.app.History
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return histDeleteDoneMsg{id: id, err: ctrl.Delete(ctx, id)}
	}
}

func (h histModel) clearCmd() tea.Cmd {
	ctrl := h.app.History
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return histClearDoneMsg{err: ctrl.ClearAll(ctx)}
	}
}

func (h histModel) Update(msg tea.Msg) (histModel, tea.Cmd) {
	switch msg := msg.(type) {
	case histLoadedMsg, histDeleteDoneMsg, histClearDoneMsg:
		// Controller state already reflects the outcome; clamp the cursor.
		h.clampCursor()
		return h, nil

	case histCopiedMsg:
		if msg.err != nil {
			h.notice = "copy failed: " + msg.err.Error()
		} else {
			h.notice = "Copied!"
		}
		return h, nil

	case downloadDoneMsg:
		if msg.err != nil {
			h.notice = "download failed: " + msg.err.Error()
		} else {
			h.notice = "saved " + msg.path
		}
		return h, nil

	case tea.KeyMsg:
		return h.handleKey(msg)
	}
	return h, nil
}

func (h histModel) handleKey(msg tea.KeyMsg) (histModel, tea.Cmd) {
	ctrl := h.app.History

	if h.confirmClear {
		switch msg.String() {
		case "y", "Y":
			h.confirmClear = false
			return h, h.clearCmd()
		default:
			h.confirmClear = false
			return h, nil
		}
	}

	switch {
	case key.Matches(msg, h.keys.Refresh):
		return h, h.loadCmd()

	case key.Matches(msg, h.keys.Filter):
		choices := h.filterChoices()
		h.filterIdx = (h.filterIdx + 1) % len(choices)
		ctrl.SetStyleFilter(choices[h.filterIdx])
		h.clampCursor()
		return h, nil

	case key.Matches(msg, h.keys.Delete):
		if rec, ok := h.selected(); ok && !ctrl.Deleting(rec.ID) {
			return h, h.deleteCmd(rec.ID)
		}
		return h, nil

	case key.Matches(msg, h.keys.ClearAll):
		if _, total := ctrl.Counts(); total > 0 && !ctrl.Clearing() {
			h.confirmClear = true
		}
		return h, nil

	case key.Matches(msg, h.keys.Copy):
		if rec, ok := h.selected(); ok {
			caption := rec.EnhancedCaption
			return h, func() tea.Msg {
				return histCopiedMsg{err: clipboard.WriteAll(caption)}
			}
		}
		return h, nil

	case key.Matches(msg, h.keys.Download):
		if rec, ok := h.selected(); ok && rec.ImageURL != "" {
			h.notice = "downloading..."
			return h, downloadCmd(upload.Result{URL: rec.ImageURL})
		}
		return h, nil
	}

	switch msg.String() {
	case "up":
		if h.cursor > 0 {
			h.cursor--
		}
		return h, nil
	case "down":
		h.cursor++
		h.clampCursor()
		return h, nil
	case "esc":
		h.notice = ""
		if ctrl.Err() != "" {
			ctrl.DismissError()
			return h, nil
		}
		if h.search.Value() != "" {
			h.search.SetValue("")
			ctrl.SetSearch("")
			h.clampCursor()
		}
		return h, nil
	}

	var cmd tea.Cmd
	h.search, cmd = h.search.Update(msg)
	ctrl.SetSearch(h.search.Value())
	h.clampCursor()
	return h, cmd
}

func (h *histModel) clampCursor() {
	n := len(h.app.History.Visible())
	if h.cursor >= n {
		h.cursor = n - 1
	}
	if h.cursor < 0 {
		h.cursor = 0
	}
}

func (h histModel) selected() (api.HistoryRecord, bool) {
	visible := h.app.History.Visible()
	if h.cursor < 0 || h.cursor >= len(visible) {
		return api.HistoryRecord{}, false
	}
	return visible[h.cursor], true
}

func (h histModel) View(spinner string) string {
	ctrl := h.app.History
	var sections []string

	sections = append(sections, h.theme.PaneTitle.Render("Your caption history"))
	sections = append(sections, h.theme.InputBox.Render(h.search.View()))

	choices := h.filterChoices()
	filter := choices[h.filterIdx%len(choices)]
	visible, total := ctrl.Counts()
	sections = append(sections, h.theme.TopBarMeta.Render(
		fmt.Sprintf("Style: %s · Showing %d of %d · ctrl+f: filter", filter, visible, total)))

	switch {
	case ctrl.Loading():
		sections = append(sections, spinner+" "+h.theme.TopBarMeta.Render("Loading history..."))
	case ctrl.Clearing():
		sections = append(sections, spinner+" "+h.theme.TopBarMeta.Render("Clearing history..."))
	case total == 0:
		sections = append(sections, h.theme.RowMuted.Render("No captions yet. Generate one from the dashboard."))
	case visible == 0:
		sections = append(sections, h.theme.RowMuted.Render("Nothing matches the current filters."))
	default:
		sections = append(sections, h.rows(spinner))
	}

	if h.confirmClear {
		sections = append(sections, h.theme.ErrorBanner.Render("Delete ALL history? This cannot be undone. y: confirm · any other key: cancel"))
	}
	if errMsg := ctrl.Err(); errMsg != "" {
		sections = append(sections, h.theme.ErrorBanner.Render(errMsg+"  (esc to dismiss)"))
	}
	if h.notice != "" {
		sections = append(sections, h.theme.InfoBanner.Render(h.notice))
	}
	sections = append(sections, h.theme.Footer.Render("up/down: rows · ctrl+y: copy · ctrl+o: download · ctrl+x: delete · ctrl+l: clear all · ctrl+r: reload"))

	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(sections, "\n\n"))
}

func (h histModel) rows(spinner string) string {
	records := h.app.History.Visible()

	maxRows := h.height - 14
	if maxRows < 3 {
		maxRows = 3
	}
	start := 0
	if h.cursor >= maxRows {
		start = h.cursor - maxRows + 1
	}
	end := start + maxRows
	if end > len(records) {
		end = len(records)
	}

	var lines []string
	for i := start; i < end; i++ {
		rec := records[i]
		when := rec.CreatedAt
		if t, ok := rec.CreatedTime(); ok {
			when = t.Local().Format("Jan 2 15:04")
		}
		style := rec.Style
		if rec.Style == api.StyleCustom && rec.CustomDescription != "" {
			style = "custom: " + rec.CustomDescription
		}
		line := fmt.Sprintf("%s  [%s]  %s", when, style, rec.EnhancedCaption)
		line = truncate(line, h.width-8)

		switch {
		case h.app.History.Deleting(rec.ID):
			line = spinner + " " + h.theme.RowMuted.Render(line)
		case i == h.cursor:
			line = h.theme.RowSel.Render("▸ " + line)
		default:
			line = "  " + h.theme.Card.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
