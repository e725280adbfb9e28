package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrAuthRequired is returned when an authenticated operation is attempted
// without a usable session token.
var ErrAuthRequired = errors.New("you must be logged in to do that")

// UpstreamError is any non-success response from the backend or the media
// host. Message carries the server-provided reason verbatim when present.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// upstreamFromResponse normalizes an error body into an UpstreamError.
// The backend uses a "detail" field, older endpoints use "message"; anything
// else falls back to a generic status line.
func upstreamFromResponse(resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			msg = payload.Detail
		} else if payload.Message != "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return &UpstreamError{Status: resp.StatusCode, Message: msg}
}
