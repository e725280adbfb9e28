// Package session owns the authenticated-user state for the whole process.
// Everything else reads it through Snapshot or a subscription; only the
// sign-in/out/reset actions below talk to the identity backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNotSignedIn is returned by Token when no user is present.
var ErrNotSignedIn = errors.New("not signed in")

// Snapshot is the latest known session state. Loading is true only between
// process start and the first resolution against the identity backend.
type Snapshot struct {
	UserID      string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	Present     bool
	Loading     bool
}

// Provider is the process-wide session object. Construct one at startup and
// thread it explicitly to every component that needs it.
type Provider struct {
	identity *identityClient
	store    *credentialStore

	mu       sync.Mutex
	snap     Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
	token    string
	tokenExp time.Time
	refresh  string
	done     chan struct{}
}

// refreshMargin forces a new token exchange when the cached one is close to
// expiry, so a token handed out is valid for the whole operation.
const refreshMargin = time.Minute

// NewProvider creates an unresolved provider. Call Start to kick off the
// initial resolution.
func NewProvider(identityURL, apiKey, credentialsPath string) *Provider {
	return &Provider{
		identity: newIdentityClient(identityURL, apiKey),
		store:    &credentialStore{path: credentialsPath},
		snap:     Snapshot{Loading: true},
		subs:     make(map[int]chan Snapshot),
		done:     make(chan struct{}),
	}
}

// Start resolves whether a persisted credential is still valid, exactly once.
// The outcome is broadcast to subscribers; Loading never flips back to true.
func (p *Provider) Start(ctx context.Context) {
	go func() {
		defer close(p.done)

		creds, err := p.store.load()
		if err != nil || creds.RefreshToken == "" {
			p.resolve(Snapshot{})
			return
		}
		tok, err := p.identity.refreshToken(ctx, creds.RefreshToken)
		if err != nil {
			p.resolve(Snapshot{})
			return
		}
		p.mu.Lock()
		p.token = tok.IDToken
		p.tokenExp = time.Now().Add(tok.ExpiresIn)
		p.refresh = tok.RefreshToken
		p.mu.Unlock()
		p.resolve(Snapshot{
			UserID:      creds.UserID,
			Email:       creds.Email,
			DisplayName: creds.DisplayName,
			CreatedAt:   creds.CreatedAt,
			Present:     true,
		})
	}()
}

// WaitResolved blocks until the initial resolution finished. Used by the
// non-interactive subcommands; the TUI subscribes instead.
func (p *Provider) WaitResolved(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest known state.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe registers for session change notifications. The current state is
// delivered immediately; cancel removes the subscription.
func (p *Provider) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Snapshot, 8)
	ch <- p.snap
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Token returns a bearer token valid right now, exchanging the refresh token
// whenever the cached one is stale. Callers must not hold the result across
// operations.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	if !p.snap.Present {
		p.mu.Unlock()
		return "", ErrNotSignedIn
	}
	if p.token != "" && time.Until(p.tokenExp) > refreshMargin {
		tok := p.token
		p.mu.Unlock()
		return tok, nil
	}
	refresh := p.refresh
	p.mu.Unlock()

	tok, err := p.identity.refreshToken(ctx, refresh)
	if err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}

	p.mu.Lock()
	p.token = tok.IDToken
	p.tokenExp = time.Now().Add(tok.ExpiresIn)
	if tok.RefreshToken != "" {
		p.refresh = tok.RefreshToken
	}
	p.mu.Unlock()
	return tok.IDToken, nil
}

// Login signs in with email and password and persists the credential so the
// session survives restarts.
func (p *Provider) Login(ctx context.Context, email, password string) error {
	acct, err := p.identity.signIn(ctx, email, password)
	if err != nil {
		return err
	}
	return p.adopt(acct)
}

// Signup creates a new account and signs it in. Password policy mirrors the
// identity provider's minimum.
func (p *Provider) Signup(ctx context.Context, email, password string) error {
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters long")
	}
	acct, err := p.identity.signUp(ctx, email, password)
	if err != nil {
		return err
	}
	return p.adopt(acct)
}

// Logout revokes the refresh token with the identity backend. A failed
// revoke surfaces as an error and the session stays present; nothing is
// forced absent speculatively.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	refresh := p.refresh
	p.mu.Unlock()
	if refresh == "" {
		return ErrNotSignedIn
	}

	if err := p.identity.revoke(ctx, refresh); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	if err := p.store.clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	p.mu.Lock()
	p.token = ""
	p.refresh = ""
	p.tokenExp = time.Time{}
	p.mu.Unlock()
	p.broadcast(Snapshot{})
	return nil
}

// SendPasswordReset asks the identity backend to mail a reset link to the
// signed-in user's address.
func (p *Provider) SendPasswordReset(ctx context.Context) error {
	snap := p.Snapshot()
	if !snap.Present || snap.Email == "" {
		return ErrNotSignedIn
	}
	return p.identity.sendPasswordReset(ctx, snap.Email)
}

func (p *Provider) adopt(acct account) error {
	now := time.Now().UTC()
	creds := credentials{
		UserID:       acct.UserID,
		Email:        acct.Email,
		DisplayName:  acct.DisplayName,
		CreatedAt:    acct.CreatedAt,
		RefreshToken: acct.RefreshToken,
	}
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = now
	}
	if creds.DisplayName == "" {
		creds.DisplayName = displayNameFromEmail(acct.Email)
	}
	if err := p.store.save(creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}

	p.mu.Lock()
	p.token = acct.IDToken
	p.tokenExp = time.Now().Add(acct.ExpiresIn)
	p.refresh = acct.RefreshToken
	p.mu.Unlock()

	p.broadcast(Snapshot{
		UserID:      creds.UserID,
		Email:       creds.Email,
		DisplayName: creds.DisplayName,
		CreatedAt:   creds.CreatedAt,
		Present:     true,
	})
	return nil
}

// resolve publishes the one-time initial resolution.
func (p *Provider) resolve(next Snapshot) {
	next.Loading = false
	p.broadcast(next)
}

func (p *Provider) broadcast(next Snapshot) {
	next.Loading = false
	p.mu.Lock()
	p.snap = next
	for _, ch := range p.subs {
		select {
		case ch <- next:
		default:
			// Full buffer: evict the oldest pending snapshot so a slow
			// subscriber still converges on the latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	p.mu.Unlock()
}

func displayNameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
