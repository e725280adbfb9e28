// Package tui renders the caption studio as a full-screen terminal app. The
// bubbletea loop owns all interaction; controllers in workflow and history
// hold the state being rendered.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"captionit/internal/app"
	"captionit/internal/nav"
	"captionit/internal/session"
)

type sessionMsg struct{ snap session.Snapshot }

type navigateMsg struct{ view nav.View }

type logoutDoneMsg struct{ err error }

type spinMsg time.Time

var spinFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// protectedOrder is the alt+n / alt+p cycle for signed-in users.
var protectedOrder = []nav.View{nav.ViewDashboard, nav.ViewHistory, nav.ViewProfile, nav.ViewSettings}

// Model is the root bubbletea model. It routes messages to the view that is
// currently resolved by the navigation guard and nothing else.
type Model struct {
	app   *app.Application
	theme Theme
	keys  keyMap
	help  helpModel

	width    int
	height   int
	frame    int
	showHelp bool

	sess      session.Snapshot
	sessionCh <-chan session.Snapshot
	cancelSub func()

	requested nav.View
	view      nav.View

	auth authModel
	dash dashModel
	hist histModel
	acct acctModel

	stylesLoaded bool
	status       string
}

func NewModel(application *app.Application) Model {
	theme := NewTheme()
	keys := newKeyMap()
	ch, cancel := application.Session.Subscribe()

	requested := nav.View(application.Config.DefaultView)
	if requested == "" {
		requested = nav.DefaultProtected
	}

	return Model{
		app:       application,
		theme:     theme,
		keys:      keys,
		help:      newHelpModel(theme, keys),
		sess:      session.Snapshot{Loading: true},
		sessionCh: ch,
		cancelSub: cancel,
		requested: requested,
		view:      nav.ViewLoading,
		auth:      newAuthModel(application, theme),
		dash:      newDashModel(application, theme, keys),
		hist:      newHistModel(application, theme, keys),
		acct:      newAcctModel(application, theme),
	}
}

// Run starts the session resolution and blocks inside the bubbletea loop
// until the user quits.
func Run(application *app.Application) error {
	application.Session.Start(context.Background())
	p := tea.NewProgram(NewModel(application), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitSession(m.sessionCh), spinTick())
}

func waitSession(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return sessionMsg{snap: snap}
	}
}

func spinTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg {
		return spinMsg(t)
	})
}

func navigate(v nav.View) tea.Cmd {
	return func() tea.Msg {
		return navigateMsg{view: v}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.auth.setSize(msg.Width, msg.Height)
		m.dash.setSize(msg.Width, msg.Height)
		m.hist.setSize(msg.Width, msg.Height)
		m.acct.setSize(msg.Width, msg.Height)
		return m, nil

	case spinMsg:
		m.frame++
		return m, spinTick()

	case sessionMsg:
		wasPresent := m.sess.Present
		m.sess = msg.snap
		cmds := []tea.Cmd{waitSession(m.sessionCh)}
		if wasPresent && !m.sess.Present {
			// Signed out: drop everything tied to the old user.
			m.app.Workflow.Reset()
			m.dash = newDashModel(m.app, m.theme, m.keys)
			m.dash.setSize(m.width, m.height)
			m.hist = newHistModel(m.app, m.theme, m.keys)
			m.hist.setSize(m.width, m.height)
			m.requested = nav.ViewLogin
		}
		if cmd := m.switchTo(nav.Resolve(m.sess, m.requested)); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case navigateMsg:
		m.requested = msg.view
		return m, m.switchTo(nav.Resolve(m.sess, m.requested))

	case logoutDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancelSub()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			if msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.NextView):
			if m.sess.Present {
				return m, navigate(siblingView(m.view, 1))
			}
			return m, nil
		case key.Matches(msg, m.keys.PrevView):
			if m.sess.Present {
				return m, navigate(siblingView(m.view, -1))
			}
			return m, nil
		case key.Matches(msg, m.keys.Logout):
			if m.sess.Present {
				m.status = "signing out..."
				return m, m.logoutCmd()
			}
			return m, nil
		}
	}

	return m.routeToView(msg)
}

func (m Model) routeToView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case nav.ViewLogin, nav.ViewSignup:
		m.auth, cmd = m.auth.Update(msg, m.view)
	case nav.ViewDashboard:
		m.dash, cmd = m.dash.Update(msg)
	case nav.ViewHistory:
		m.hist, cmd = m.hist.Update(msg)
	case nav.ViewProfile, nav.ViewSettings:
		m.acct, cmd = m.acct.Update(msg, m.view)
	}
	return m, cmd
}

// switchTo mounts the resolved view. Mount side effects run here so a view
// never fetches data it is not allowed to show.
func (m *Model) switchTo(next nav.View) tea.Cmd {
	if next == m.view {
		return nil
	}
	m.view = next
	switch next {
	case nav.ViewDashboard:
		if !m.stylesLoaded {
			m.stylesLoaded = true
			return m.dash.loadStylesCmd()
		}
	case nav.ViewHistory:
		return m.hist.loadCmd()
	case nav.ViewLogin, nav.ViewSignup:
		m.auth = m.auth.reset()
	}
	return nil
}

func (m Model) logoutCmd() tea.Cmd {
	sess := m.app.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return logoutDoneMsg{err: sess.Logout(ctx)}
	}
}

func siblingView(current nav.View, step int) nav.View {
	for i, v := range protectedOrder {
		if v == current {
			n := len(protectedOrder)
			return protectedOrder[(i+step+n)%n]
		}
	}
	return nav.DefaultProtected
}

func (m Model) spinner() string {
	return m.theme.Spinner.Render(spinFrames[m.frame%len(spinFrames)])
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	var body string
	if m.showHelp {
		body = m.help.View(m.width)
	} else {
		switch m.view {
		case nav.ViewLoading:
			body = m.theme.TopBarMeta.Render(m.spinner() + " Authenticating...")
		case nav.ViewLogin, nav.ViewSignup:
			body = m.auth.View(m.view, m.spinner())
		case nav.ViewDashboard:
			body = m.dash.View(m.spinner())
		case nav.ViewHistory:
			body = m.hist.View(m.spinner())
		case nav.ViewProfile, nav.ViewSettings:
			body = m.acct.View(m.view)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.topBar(), body, m.footer())
}

func (m Model) topBar() string {
	title := m.theme.TopBarTitle.Render("Caption It All")
	badge := m.theme.TopBarBadge.Render("[" + string(m.view) + "]")
	left := title + " " + badge

	right := ""
	if m.sess.Present {
		right = m.theme.TopBarMeta.Render(m.sess.Email)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return m.theme.TopBar.Render(left + pad(gap) + right)
}

func (m Model) footer() string {
	hint := "alt+h help · ctrl+c quit"
	if m.sess.Present {
		hint = "alt+n/alt+p views · alt+q log out · " + hint
	}
	if m.status != "" {
		hint = m.status + "  ·  " + hint
	}
	return m.theme.Footer.Render(truncate(hint, m.width))
}

func pad(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width-1 {
		return s
	}
	return string(runes[:width-1]) + "…"
}
