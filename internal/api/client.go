package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TokenSource yields a currently-valid bearer token. Tokens rotate, so the
// client asks for a fresh one before every authenticated call instead of
// holding on to a value.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the typed gateway to the Caption-It-All backend. All backend
// contact in the program goes through here.
type Client struct {
	BaseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// defaultTimeout bounds calls whose context carries no deadline of its own.
// Slow operations like caption generation pass a longer deadline explicitly;
// a client-level http.Client timeout would override it, so the bound lives on
// the context instead.
const defaultTimeout = 30 * time.Second

// NewClient creates a gateway client. tokens may be nil for a client that
// only uses the public endpoints.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{},
	}
}

// ListStyles fetches the ordered style catalog. Public endpoint.
func (c *Client) ListStyles(ctx context.Context) ([]Style, error) {
	var out struct {
		Styles []Style `json:"styles"`
	}
	if err := c.do(ctx, http.MethodGet, "/caption-styles", false, nil, &out); err != nil {
		return nil, err
	}
	return out.Styles, nil
}

// UploadSignature fetches a short-lived signed-upload credential. Public
// endpoint; the credential itself is what authorizes the upload.
func (c *Client) UploadSignature(ctx context.Context) (Signature, error) {
	var sig Signature
	if err := c.do(ctx, http.MethodGet, "/generate-signature", false, nil, &sig); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// GenerateCaption asks the backend for a caption in the requested style.
// The richer enhanced_caption field is preferred; older backend versions
// only return a plain caption field, which then serves for both variants.
func (c *Client) GenerateCaption(ctx context.Context, req GenerateRequest) (CaptionResult, error) {
	var out struct {
		EnhancedCaption string `json:"enhanced_caption"`
		BasicCaption    string `json:"basic_caption"`
		Caption         string `json:"caption"`
	}
	if err := c.do(ctx, http.MethodPost, "/generate-caption", true, req, &out); err != nil {
		return CaptionResult{}, err
	}

	res := CaptionResult{Enhanced: out.EnhancedCaption, Basic: out.BasicCaption}
	if res.Enhanced == "" {
		res.Enhanced = out.Caption
	}
	if res.Basic == "" {
		res.Basic = out.Caption
	}
	return res, nil
}

// ListHistory fetches the full history for the signed-in user, newest first.
func (c *Client) ListHistory(ctx context.Context) ([]HistoryRecord, error) {
	var out struct {
		History []HistoryRecord `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/history", true, nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// DeleteHistoryItem deletes a single record by id.
func (c *Client) DeleteHistoryItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/user/history/"+url.PathEscape(id), true, nil, nil)
}

// ClearHistory deletes every record for the signed-in user.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/user/history", true, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if authed {
		if c.tokens == nil {
			return ErrAuthRequired
		}
		token, err := c.tokens.Token(ctx)
		if err != nil || token == "" {
			return ErrAuthRequired
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
