package tui

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"captionit/internal/api"
	"captionit/internal/app"
	"captionit/internal/upload"
	"captionit/internal/workflow"
)

type stylesLoadedMsg struct{}

type uploadDoneMsg struct{ err error }

type generateDoneMsg struct{ err error }

type copyDoneMsg struct{ err error }

type downloadDoneMsg struct {
	path string
	err  error
}

type dashErrTickMsg struct{ seq int }

type copiedTickMsg struct{ seq int }

const (
	dashErrTTL = 5 * time.Second
	copiedTTL  = 2 * time.Second
)

// dashModel renders the caption workflow. All durable state lives in the
// workflow controller; this model only owns the text widgets and transient
// notices.
type dashModel struct {
	app   *app.Application
	theme Theme
	keys  keyMap

	width  int
	height int

	path        textinput.Model
	custom      textarea.Model
	focusCustom bool

	copied  bool
	copySeq int
	errSeq  int
	notice  string
}

func newDashModel(application *app.Application, theme Theme, keys keyMap) dashModel {
	path := textinput.New()
	path.Placeholder = "path/to/image.jpg"
	path.CharLimit = 512
	path.Prompt = "> "
	path.Focus()

	custom := textarea.New()
	custom.Placeholder = "Describe your desired caption style..."
	custom.CharLimit = workflow.MaxCustomDescription
	custom.SetHeight(3)
	custom.ShowLineNumbers = false

	return dashModel{
		app:    application,
		theme:  theme,
		keys:   keys,
		path:   path,
		custom: custom,
	}
}

func (d *dashModel) setSize(w, h int) {
	d.width, d.height = w, h
	inner := w - 8
	if inner < 20 {
		inner = 20
	}
	d.path.Width = inner
	d.custom.SetWidth(inner)
}

func (d dashModel) loadStylesCmd() tea.Cmd {
	wf := d.app.Workflow
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		wf.LoadStyles(ctx)
		return stylesLoadedMsg{}
	}
}

func (d dashModel) uploadCmd(path string) tea.Cmd {
	wf := d.app.Workflow
	log := d.app.Logger
	return func() tea.Msg {
		err := wf.Upload(context.Background(), path, nil)
		if err != nil {
			log.Error("upload failed", map[string]interface{}{"error": err.Error()})
		}
		return uploadDoneMsg{err: err}
	}
}

func (d dashModel) generateCmd() tea.Cmd {
	wf := d.app.Workflow
	log := d.app.Logger
	return func() tea.Msg {
		err := wf.Generate(context.Background())
		if err != nil {
			log.Error("generation failed", map[string]interface{}{"error": err.Error()})
		}
		return generateDoneMsg{err: err}
	}
}

func (d dashModel) copyCmd() tea.Cmd {
	wf := d.app.Workflow
	return func() tea.Msg {
		text, err := wf.CopyText()
		if err != nil {
			return copyDoneMsg{err: err}
		}
		return copyDoneMsg{err: clipboard.WriteAll(text)}
	}
}

// downloadCmd is shared with the history view, which offers the same action
// on a past generation's image.
func downloadCmd(res upload.Result) tea.Cmd {
	return func() tea.Msg {
		path, err := downloadImage(res)
		return downloadDoneMsg{path: path, err: err}
	}
}

// downloadImage fetches the hosted copy back into the working directory,
// the closest a terminal gets to the browser's download button.
func downloadImage(res upload.Result) (string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(res.URL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	name := res.Name
	if name == "" {
		name = filepath.Base(res.URL)
	}
	out, err := os.Create(name)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", err
	}
	return name, nil
}

func (d dashModel) errTick() tea.Cmd {
	seq := d.errSeq
	return tea.Tick(dashErrTTL, func(time.Time) tea.Msg {
		return dashErrTickMsg{seq: seq}
	})
}

func (d dashModel) Update(msg tea.Msg) (dashModel, tea.Cmd) {
	wf := d.app.Workflow

	switch msg := msg.(type) {
	case stylesLoadedMsg:
		return d, nil

	case uploadDoneMsg:
		if msg.err != nil {
			d.errSeq++
			return d, d.errTick()
		}
		return d, nil

	case generateDoneMsg:
		if msg.err != nil {
			d.errSeq++
			return d, d.errTick()
		}
		return d, nil

	case copyDoneMsg:
		if msg.err != nil {
			d.notice = "copy failed: " + msg.err.Error()
			return d, nil
		}
		d.copied = true
		d.copySeq++
		seq := d.copySeq
		return d, tea.Tick(copiedTTL, func(time.Time) tea.Msg {
			return copiedTickMsg{seq: seq}
		})

	case copiedTickMsg:
		if msg.seq == d.copySeq {
			d.copied = false
		}
		return d, nil

	case downloadDoneMsg:
		if msg.err != nil {
			d.notice = "download failed: " + msg.err.Error()
		} else {
			d.notice = "saved " + msg.path
		}
		return d, nil

	case dashErrTickMsg:
		if msg.seq == d.errSeq {
			wf.DismissError()
		}
		return d, nil

	case tea.KeyMsg:
		return d.handleKey(msg)
	}

	return d, nil
}

func (d dashModel) handleKey(msg tea.KeyMsg) (dashModel, tea.Cmd) {
	wf := d.app.Workflow
	snap := wf.Snapshot()

	switch {
	case key.Matches(msg, d.keys.ResetRun):
		wf.Reset()
		d.path.SetValue("")
		d.custom.SetValue("")
		d.focusCustom = false
		d.custom.Blur()
		d.path.Focus()
		d.notice = ""
		d.copied = false
		return d, nil

	case key.Matches(msg, d.keys.Generate):
		if snap.State == workflow.StateReady || snap.State == workflow.StateCompleted {
			wf.SetCustomDescription(d.custom.Value())
			return d, d.generateCmd()
		}
		return d, nil

	case key.Matches(msg, d.keys.Copy):
		if snap.Result != nil {
			return d, d.copyCmd()
		}
		return d, nil

	case key.Matches(msg, d.keys.Download):
		if snap.Image != nil {
			d.notice = "downloading..."
			return d, downloadCmd(*snap.Image)
		}
		return d, nil
	}

	switch msg.String() {
	case "esc":
		wf.DismissError()
		d.notice = ""
		if d.focusCustom {
			d.focusCustom = false
			d.custom.Blur()
			d.path.Focus()
		}
		return d, nil

	case "tab":
		if snap.StyleID == api.StyleCustom && snap.Image != nil {
			d.focusCustom = !d.focusCustom
			if d.focusCustom {
				d.path.Blur()
				return d, d.custom.Focus()
			}
			d.custom.Blur()
			d.path.Focus()
		}
		return d, nil

	case "enter":
		if d.focusCustom {
			break
		}
		path := strings.TrimSpace(d.path.Value())
		if path == "" {
			return d, nil
		}
		switch snap.State {
		case workflow.StateIdle, workflow.StateReady, workflow.StateCompleted:
			return d, d.uploadCmd(path)
		}
		return d, nil

	case "up", "down":
		if !d.focusCustom {
			d.cycleStyle(snap, msg.String() == "down")
			return d, nil
		}
	}

	var cmd tea.Cmd
	if d.focusCustom {
		d.custom, cmd = d.custom.Update(msg)
		d.app.Workflow.SetCustomDescription(d.custom.Value())
	} else {
		d.path, cmd = d.path.Update(msg)
	}
	return d, cmd
}

func (d *dashModel) cycleStyle(snap workflow.Snapshot, forward bool) {
	if len(snap.Styles) == 0 {
		return
	}
	idx := 0
	for i, s := range snap.Styles {
		if s.ID == snap.StyleID {
			idx = i
			break
		}
	}
	n := len(snap.Styles)
	if forward {
		idx = (idx + 1) % n
	} else {
		idx = (idx - 1 + n) % n
	}
	next := snap.Styles[idx].ID
	d.app.Workflow.SelectStyle(next)
	if next != api.StyleCustom {
		d.custom.SetValue("")
		d.focusCustom = false
		d.custom.Blur()
		d.path.Focus()
	}
}

func (d dashModel) View(spinner string) string {
	snap := d.app.Workflow.Snapshot()
	var sections []string

	sections = append(sections, d.uploadPane(snap, spinner))
	if snap.Image != nil && snap.State != workflow.StateUploading {
		sections = append(sections, d.stylePane(snap))
	}
	switch snap.State {
	case workflow.StateGenerating:
		sections = append(sections, spinner+" "+d.theme.TopBarMeta.Render("Generating caption..."))
	case workflow.StateCompleted:
		if snap.Result != nil {
			sections = append(sections, d.resultPane(*snap.Result))
		}
	}

	if snap.ErrorMessage != "" {
		sections = append(sections, d.theme.ErrorBanner.Render(snap.ErrorMessage))
	}
	if d.notice != "" {
		sections = append(sections, d.theme.InfoBanner.Render(d.notice))
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(sections, "\n\n"))
}

func (d dashModel) uploadPane(snap workflow.Snapshot, spinner string) string {
	title := d.theme.PaneTitle.Render("Image")

	switch {
	case snap.State == workflow.StateUploading:
		bar := progressBar(d.theme, snap.UploadPercent, min(d.width-10, 40))
		return title + "\n" + spinner + " Uploading  " + bar + fmt.Sprintf("  %d%%", snap.UploadPercent)
	case snap.Image != nil:
		info := fmt.Sprintf("%s  (%s)", snap.Image.Name, humanSize(snap.Image.SizeBytes))
		url := d.theme.RowMuted.Render(truncate(snap.Image.URL, d.width-6))
		return title + "\n" + info + "\n" + url + "\n" + d.theme.Footer.Render("enter: replace · ctrl+o: download · ctrl+r: start over")
	default:
		box := d.theme.InputBoxF
		if d.focusCustom {
			box = d.theme.InputBox
		}
		return title + "\n" + box.Render(d.path.View()) + "\n" + d.theme.Footer.Render("enter: upload (jpeg/png/gif/webp, max 10 MB)")
	}
}

func (d dashModel) stylePane(snap workflow.Snapshot) string {
	var rows []string
	rows = append(rows, d.theme.PaneTitle.Render("Style"))
	for _, s := range snap.Styles {
		line := "  " + s.Name + " · " + s.Description
		if s.ID == snap.StyleID {
			line = d.theme.CardSel.Render("▸ " + s.Name + " · " + s.Description)
		} else {
			line = d.theme.Card.Render(line)
		}
		rows = append(rows, line)
	}

	if snap.StyleID == api.StyleCustom {
		box := d.theme.InputBox
		if d.focusCustom {
			box = d.theme.InputBoxF
		}
		rows = append(rows, box.Render(d.custom.View()))
		remaining := workflow.MaxCustomDescription - utf8.RuneCountInString(d.custom.Value())
		rows = append(rows, d.theme.RowMuted.Render(fmt.Sprintf("%d characters left · tab: focus description", remaining)))
	}
	rows = append(rows, d.theme.Footer.Render("up/down: style · ctrl+g: generate"))
	return strings.Join(rows, "\n")
}

func (d dashModel) resultPane(result api.CaptionResult) string {
	width := min(d.width-8, 70)
	caption := d.theme.Caption.Width(width).Render(result.Enhanced)

	var rows []string
	rows = append(rows, d.theme.PaneTitle.Render("Caption"))
	rows = append(rows, caption)
	if result.Basic != "" && result.Basic != result.Enhanced {
		rows = append(rows, d.theme.RowMuted.Render("alt: "+result.Basic))
	}
	hint := "ctrl+y: copy · ctrl+g: regenerate · ctrl+r: start over"
	if d.copied {
		hint = d.theme.InfoBanner.Render("Copied!")
	} else {
		hint = d.theme.Footer.Render(hint)
	}
	rows = append(rows, hint)
	return strings.Join(rows, "\n")
}

func progressBar(theme Theme, percent, width int) string {
	if width < 4 {
		width = 4
	}
	filled := width * percent / 100
	if filled > width {
		filled = width
	}
	return theme.ProgressBar.Render(strings.Repeat("█", filled)) +
		theme.RowMuted.Render(strings.Repeat("░", width-filled))
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
