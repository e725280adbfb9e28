package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// identityClient talks to the external identity provider's REST surface.
// The provider owns user records and password verification; this client only
// exchanges credentials for tokens.
type identityClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newIdentityClient(baseURL, apiKey string) *identityClient {
	return &identityClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type account struct {
	UserID       string
	Email        string
	DisplayName  string
	CreatedAt    time.Time
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

type tokenResponse struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

func (c *identityClient) signIn(ctx context.Context, email, password string) (account, error) {
	return c.credentialGrant(ctx, "accounts:signInWithPassword", email, password)
}

func (c *identityClient) signUp(ctx context.Context, email, password string) (account, error) {
	return c.credentialGrant(ctx, "accounts:signUp", email, password)
}

func (c *identityClient) credentialGrant(ctx context.Context, op, email, password string) (account, error) {
	var out struct {
		LocalID      string `json:"localId"`
		Email        string `json:"email"`
		DisplayName  string `json:"displayName"`
		IDToken      string `json:"idToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    string `json:"expiresIn"`
	}
	err := c.post(ctx, op, map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return account{}, err
	}
	return account{
		UserID:       out.LocalID,
		Email:        out.Email,
		DisplayName:  out.DisplayName,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    parseExpiresIn(out.ExpiresIn),
	}, nil
}

func (c *identityClient) refreshToken(ctx context.Context, refresh string) (tokenResponse, error) {
	var out struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	err := c.post(ctx, "token", map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
	}, &out)
	if err != nil {
		return tokenResponse{}, err
	}
	if out.IDToken == "" {
		return tokenResponse{}, errors.New("identity backend returned no token")
	}
	return tokenResponse{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    parseExpiresIn(out.ExpiresIn),
	}, nil
}

func (c *identityClient) revoke(ctx context.Context, refresh string) error {
	return c.post(ctx, "token:revoke", map[string]any{
		"refresh_token": refresh,
	}, nil)
}

func (c *identityClient) sendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

func (c *identityClient) post(ctx context.Context, op string, in map[string]any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/%s?key=%s", c.baseURL, op, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(identityErrorMessage(resp))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// identityErrorMessage extracts the provider's error code, e.g.
// EMAIL_NOT_FOUND or INVALID_PASSWORD.
func identityErrorMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return fmt.Sprintf("identity backend returned status %d", resp.StatusCode)
}

func parseExpiresIn(s string) time.Duration {
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}
