// Package nav decides which top-level view is reachable for the current
// session state. The guard is a pure function; the tui re-evaluates it on
// every session change and every navigation attempt, before the target
// view's data fetches run.
package nav

import "captionit/internal/session"

// View is a top-level destination, the moral equivalent of a route path.
type View string

const (
	ViewLoading   View = "loading"
	ViewLogin     View = "login"
	ViewSignup    View = "signup"
	ViewDashboard View = "dashboard"
	ViewHistory   View = "history"
	ViewProfile   View = "profile"
	ViewSettings  View = "settings"
)

// DefaultProtected is where signed-in users land by default.
const DefaultProtected = ViewDashboard

var publicOnly = map[View]bool{
	ViewLogin:  true,
	ViewSignup: true,
}

var protected = map[View]bool{
	ViewDashboard: true,
	ViewHistory:   true,
	ViewProfile:   true,
	ViewSettings:  true,
}

// Protected reports whether a view requires a signed-in session.
func Protected(v View) bool {
	return protected[v]
}

// Resolve maps a requested view to the one that may actually render.
// Rules, first match wins:
//  1. session still loading: block on the loading view, decide nothing
//  2. public-only view while signed in: bounce to the dashboard
//  3. public-only view while signed out: allow
//  4. protected view while signed out: bounce to login
//  5. protected view while signed in: allow
//  6. anything else: dashboard if signed in, login otherwise
func Resolve(s session.Snapshot, requested View) View {
	if s.Loading {
		return ViewLoading
	}
	if publicOnly[requested] {
		if s.Present {
			return DefaultProtected
		}
		return requested
	}
	if protected[requested] {
		if !s.Present {
			return ViewLogin
		}
		return requested
	}
	if s.Present {
		return DefaultProtected
	}
	return ViewLogin
}
