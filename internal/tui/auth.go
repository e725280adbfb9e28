package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"captionit/internal/app"
	"captionit/internal/nav"
)

type authDoneMsg struct{ err error }

type authErrTickMsg struct{ seq int }

// authErrTTL auto-clears a failed sign-in banner, matching the transient
// error treatment on the dashboard.
const authErrTTL = 5 * time.Second

// authModel renders both the login and the signup form; the resolved view
// decides which. A successful submit never navigates by itself, the session
// broadcast does.
type authModel struct {
	app   *app.Application
	theme Theme

	width  int
	height int

	email    textinput.Model
	password textinput.Model
	confirm  textinput.Model
	focus    int
	busy     bool
	errMsg   string
	errSeq   int
}

func newAuthModel(application *app.Application, theme Theme) authModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 128
	email.Prompt = ""
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.CharLimit = 128
	password.Prompt = ""
	password.EchoMode = textinput.EchoPassword

	confirm := textinput.New()
	confirm.Placeholder = "confirm password"
	confirm.CharLimit = 128
	confirm.Prompt = ""
	confirm.EchoMode = textinput.EchoPassword

	return authModel{
		app:      application,
		theme:    theme,
		email:    email,
		password: password,
		confirm:  confirm,
	}
}

func (a authModel) reset() authModel {
	fresh := newAuthModel(a.app, a.theme)
	fresh.width, fresh.height = a.width, a.height
	return fresh
}

func (a *authModel) setSize(w, h int) {
	a.width, a.height = w, h
}

func (a authModel) fieldCount(view nav.View) int {
	if view == nav.ViewSignup {
		return 3
	}
	return 2
}

func (a *authModel) setFocus(idx int) {
	a.focus = idx
	inputs := []*textinput.Model{&a.email, &a.password, &a.confirm}
	for i, in := range inputs {
		if i == idx {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

func (a authModel) Update(msg tea.Msg, view nav.View) (authModel, tea.Cmd) {
	switch msg := msg.(type) {
	case authDoneMsg:
		a.busy = false
		if msg.err != nil {
			a.errMsg = msg.err.Error()
			a.errSeq++
			seq := a.errSeq
			return a, tea.Tick(authErrTTL, func(time.Time) tea.Msg {
				return authErrTickMsg{seq: seq}
			})
		}
		return a, nil

	case authErrTickMsg:
		if msg.seq == a.errSeq {
			a.errMsg = ""
		}
		return a, nil

	case tea.KeyMsg:
		if a.busy {
			return a, nil
		}
		switch msg.String() {
		case "tab", "down":
			a.setFocus((a.focus + 1) % a.fieldCount(view))
			return a, nil
		case "shift+tab", "up":
			n := a.fieldCount(view)
			a.setFocus((a.focus - 1 + n) % n)
			return a, nil
		case "esc":
			a.errMsg = ""
			return a, nil
		case "ctrl+s":
			if view == nav.ViewLogin {
				return a, navigate(nav.ViewSignup)
			}
			return a, navigate(nav.ViewLogin)
		case "enter":
			return a.submit(view)
		}
	}

	var cmd tea.Cmd
	switch a.focus {
	case 0:
		a.email, cmd = a.email.Update(msg)
	case 1:
		a.password, cmd = a.password.Update(msg)
	case 2:
		a.confirm, cmd = a.confirm.Update(msg)
	}
	return a, cmd
}

func (a authModel) submit(view nav.View) (authModel, tea.Cmd) {
	email := strings.TrimSpace(a.email.Value())
	password := a.password.Value()

	if email == "" || password == "" {
		a.errMsg = "email and password are required"
		return a, nil
	}
	if view == nav.ViewSignup {
		if len(password) < 6 {
			a.errMsg = "password must be at least 6 characters long"
			return a, nil
		}
		if password != a.confirm.Value() {
			a.errMsg = "passwords do not match"
			return a, nil
		}
	}

	a.busy = true
	a.errMsg = ""
	sess := a.app.Session
	signup := view == nav.ViewSignup
	return a, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if signup {
			return authDoneMsg{err: sess.Signup(ctx, email, password)}
		}
		return authDoneMsg{err: sess.Login(ctx, email, password)}
	}
}

func (a authModel) View(view nav.View, spinner string) string {
	title := "Welcome back"
	action := "sign in"
	alt := "ctrl+s: create an account instead"
	if view == nav.ViewSignup {
		title = "Create your account"
		action = "sign up"
		alt = "ctrl+s: sign in instead"
	}

	boxWidth := min(a.width-6, 48)
	if boxWidth < 24 {
		boxWidth = 24
	}

	field := func(label string, in textinput.Model, focused bool) string {
		box := a.theme.InputBox
		if focused {
			box = a.theme.InputBoxF
		}
		return a.theme.PaneTitle.Render(label) + "\n" + box.Width(boxWidth).Render(in.View())
	}

	parts := []string{
		a.theme.TopBarTitle.Render(title),
		"",
		field("Email", a.email, a.focus == 0),
		field("Password", a.password, a.focus == 1),
	}
	if view == nav.ViewSignup {
		parts = append(parts, field("Confirm password", a.confirm, a.focus == 2))
	}

	if a.busy {
		parts = append(parts, "", spinner+" "+a.theme.TopBarMeta.Render(action+"..."))
	} else {
		parts = append(parts, "", a.theme.Footer.Render("enter: "+action+" · "+alt))
	}
	if a.errMsg != "" {
		parts = append(parts, a.theme.ErrorBanner.Width(boxWidth).Render(a.errMsg))
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(strings.Join(parts, "\n"))
}
