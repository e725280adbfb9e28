package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeIdentity is a minimal identity backend: one known account, counted
// token refreshes.
type fakeIdentity struct {
	refreshes int
	failAuth  bool
}

func (f *fakeIdentity) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "signInWithPassword"), strings.Contains(r.URL.Path, "signUp"):
			if f.failAuth {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "INVALID_PASSWORD"}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"localId":      "user-1",
				"email":        "a@b.c",
				"idToken":      "id-token-1",
				"refreshToken": "refresh-1",
				"expiresIn":    "3600",
			})
		case strings.HasSuffix(r.URL.Path, "/v1/token"):
			f.refreshes++
			json.NewEncoder(w).Encode(map[string]any{
				"id_token":      "id-token-refreshed",
				"refresh_token": "refresh-2",
				"expires_in":    "3600",
			})
		case strings.Contains(r.URL.Path, "token:revoke"):
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "REVOKE_FAILED"}})
		default:
			t.Errorf("unexpected identity call %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestProvider(t *testing.T, f *fakeIdentity) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewProvider(srv.URL, "test-key", filepath.Join(t.TempDir(), "credentials.json"))
}

func waitFor(t *testing.T, ch <-chan Snapshot, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for session state")
		}
	}
}

func TestInitialResolution_NoCredential(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{})

	if snap := p.Snapshot(); !snap.Loading {
		t.Fatalf("before Start: Loading = false, want true")
	}

	ch, cancel := p.Subscribe()
	defer cancel()
	p.Start(context.Background())

	snap := waitFor(t, ch, func(s Snapshot) bool { return !s.Loading })
	if snap.Present {
		t.Fatalf("resolved Present = true, want false")
	}
}

func TestLogin_BroadcastsAndPersists(t *testing.T) {
	f := &fakeIdentity{}
	p := newTestProvider(t, f)
	ch, cancel := p.Subscribe()
	defer cancel()
	p.Start(context.Background())
	waitFor(t, ch, func(s Snapshot) bool { return !s.Loading })

	if err := p.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	snap := waitFor(t, ch, func(s Snapshot) bool { return s.Present })
	if snap.Email != "a@b.c" || snap.UserID != "user-1" {
		t.Fatalf("snapshot = %+v", snap)
	}

	creds, err := p.store.load()
	if err != nil || creds.RefreshToken != "refresh-1" {
		t.Fatalf("persisted creds = %+v, err %v", creds, err)
	}
}

func TestLogin_BadPassword(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{failAuth: true})
	p.Start(context.Background())
	p.WaitResolved(context.Background())

	err := p.Login(context.Background(), "a@b.c", "wrong")
	if err == nil || !strings.Contains(err.Error(), "INVALID_PASSWORD") {
		t.Fatalf("err = %v, want identity message surfaced", err)
	}
	if p.Snapshot().Present {
		t.Fatal("failed login must not flip the session present")
	}
}

func TestSignup_RejectsShortPassword(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{})
	if err := p.Signup(context.Background(), "a@b.c", "short"); err == nil {
		t.Fatal("Signup accepted a 5-char password")
	}
}

func TestToken_RefreshesWhenStale(t *testing.T) {
	f := &fakeIdentity{}
	p := newTestProvider(t, f)
	p.Start(context.Background())
	p.WaitResolved(context.Background())
	if err := p.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	tok, err := p.Token(context.Background())
	if err != nil || tok != "id-token-1" {
		t.Fatalf("Token = %q, %v", tok, err)
	}
	if f.refreshes != 0 {
		t.Fatalf("refreshes = %d before expiry, want 0", f.refreshes)
	}

	// Force staleness: the cached token is about to expire.
	p.mu.Lock()
	p.tokenExp = time.Now()
	p.mu.Unlock()

	tok, err = p.Token(context.Background())
	if err != nil || tok != "id-token-refreshed" {
		t.Fatalf("Token after expiry = %q, %v", tok, err)
	}
	if f.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", f.refreshes)
	}
}

func TestToken_NotSignedIn(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{})
	p.Start(context.Background())
	p.WaitResolved(context.Background())

	if _, err := p.Token(context.Background()); err != ErrNotSignedIn {
		t.Fatalf("err = %v, want ErrNotSignedIn", err)
	}
}

func TestSubscribe_SlowSubscriberSeesNewestState(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{})
	ch, cancel := p.Subscribe()
	defer cancel()

	// Overflow the subscriber's buffer without it reading a single message.
	for i := 0; i < 20; i++ {
		p.broadcast(Snapshot{UserID: "user-" + strings.Repeat("x", i), Present: true})
	}
	last := p.Snapshot()

	var got Snapshot
	for {
		select {
		case got = <-ch:
			continue
		default:
		}
		break
	}
	if got.UserID != last.UserID {
		t.Fatalf("drained subscriber ends on %q, want newest %q", got.UserID, last.UserID)
	}
}

func TestLogout_FailureKeepsSession(t *testing.T) {
	p := newTestProvider(t, &fakeIdentity{})
	p.Start(context.Background())
	p.WaitResolved(context.Background())
	if err := p.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// The fake identity always rejects revoke.
	if err := p.Logout(context.Background()); err == nil {
		t.Fatal("Logout succeeded against a failing revoke endpoint")
	}
	if !p.Snapshot().Present {
		t.Fatal("failed logout forced the session absent")
	}
}
