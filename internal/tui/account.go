package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"captionit/internal/app"
	"captionit/internal/nav"
)

type resetSentMsg struct{ err error }

// acctModel covers the two read-mostly views: profile and settings. The only
// action is requesting a password reset email.
type acctModel struct {
	app   *app.Application
	theme Theme

	width  int
	height int

	sending bool
	notice  string
	errMsg  string
}

func newAcctModel(application *app.Application, theme Theme) acctModel {
	return acctModel{app: application, theme: theme}
}

func (a *acctModel) setSize(w, h int) {
	a.width, a.height = w, h
}

func (a acctModel) Update(msg tea.Msg, view nav.View) (acctModel, tea.Cmd) {
	switch msg := msg.(type) {
	case resetSentMsg:
		a.sending = false
		if msg.err != nil {
			a.errMsg = msg.err.Error()
		} else {
			a.notice = "Password reset email sent to " + a.app.Session.Snapshot().Email
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			a.notice = ""
			a.errMsg = ""
			return a, nil
		case "enter":
			if view == nav.ViewSettings && !a.sending {
				a.sending = true
				a.notice = ""
				a.errMsg = ""
				sess := a.app.Session
				return a, func() tea.Msg {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					return resetSentMsg{err: sess.SendPasswordReset(ctx)}
				}
			}
		}
	}
	return a, nil
}

func (a acctModel) View(view nav.View) string {
	if view == nav.ViewProfile {
		return a.profileView()
	}
	return a.settingsView()
}

func (a acctModel) profileView() string {
	snap := a.app.Session.Snapshot()

	member := "unknown"
	if !snap.CreatedAt.IsZero() {
		member = snap.CreatedAt.Local().Format("January 2, 2006")
	}

	rows := []string{
		a.theme.TopBarTitle.Render("Profile"),
		"",
		a.row("Display name", snap.DisplayName),
		a.row("Email", snap.Email),
		a.row("Member since", member),
		a.row("User id", snap.UserID),
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(rows, "\n"))
}

func (a acctModel) settingsView() string {
	cfg := a.app.Config

	rows := []string{
		a.theme.TopBarTitle.Render("Settings"),
		"",
		a.row("Backend", cfg.APIBaseURL),
		a.row("Theme", string(a.theme.Name)),
		a.row("Config file", app.DefaultConfigPath()),
		"",
		a.theme.PaneTitle.Render("Security"),
		a.theme.Card.Render("  enter: email me a password reset link"),
	}
	if a.sending {
		rows = append(rows, "", a.theme.TopBarMeta.Render("Sending reset email..."))
	}
	if a.notice != "" {
		rows = append(rows, "", a.theme.InfoBanner.Render(a.notice))
	}
	if a.errMsg != "" {
		rows = append(rows, "", a.theme.ErrorBanner.Render(a.errMsg))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(rows, "\n"))
}

func (a acctModel) row(label, value string) string {
	l := lipgloss.NewStyle().Bold(true).Foreground(a.theme.TextMuted).Width(14)
	return l.Render(label) + a.theme.TopBarTitle.Render(value)
}
