// Package workflow drives one caption-creation session: upload, style
// selection, generation, result. It owns the state machine and nothing about
// presentation; the tui package renders snapshots of it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"captionit/internal/api"
	"captionit/internal/session"
	"captionit/internal/upload"
)

// State is the workflow position. Errors are not a state of their own: a
// failed upload lands back in Idle and a failed generation back in Ready,
// with the failure in the controller's single error slot.
type State int

const (
	StateIdle State = iota
	StateUploading
	StateReady
	StateGenerating
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploading:
		return "uploading"
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MaxCustomDescription caps the free-text style description.
const MaxCustomDescription = 200

// ErrGenerationInFlight is returned when Generate is called while a
// generation is already pending. Strict no-op: nothing is queued.
var ErrGenerationInFlight = errors.New("a caption is already being generated")

// ErrUploadInFlight likewise guards the upload path.
var ErrUploadInFlight = errors.New("an upload is already in progress")

// ValidationError is a precondition failure that never reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

type gateway interface {
	ListStyles(ctx context.Context) ([]api.Style, error)
	GenerateCaption(ctx context.Context, req api.GenerateRequest) (api.CaptionResult, error)
}

type uploader interface {
	Upload(ctx context.Context, info upload.FileInfo, onProgress upload.ProgressFunc) (upload.Result, error)
}

type sessions interface {
	Snapshot() session.Snapshot
}

// Snapshot is an immutable view of the controller for rendering.
type Snapshot struct {
	State             State
	Styles            []api.Style
	StyleID           string
	CustomDescription string
	Image             *upload.Result
	Result            *api.CaptionResult
	UploadPercent     int
	ErrorMessage      string
}

// Controller is safe for use from the UI loop plus the goroutines its own
// async operations run on. All state is ephemeral: a new controller starts
// from scratch.
type Controller struct {
	gw   gateway
	up   uploader
	sess sessions

	generateTimeout time.Duration

	mu      sync.Mutex
	state   State
	styles  []api.Style
	styleID string
	custom  string
	image   *upload.Result
	result  *api.CaptionResult
	percent int
	errMsg  string
	attempt string
}

// NewController creates an Idle controller with the default style selected
// and the fallback style catalog until LoadStyles succeeds.
func NewController(gw gateway, up uploader, sess sessions) *Controller {
	return &Controller{
		gw:              gw,
		up:              up,
		sess:            sess,
		generateTimeout: 60 * time.Second,
		state:           StateIdle,
		styles:          api.DefaultStyles(),
		styleID:         api.StyleDefault,
	}
}

// Snapshot returns the current view state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:             c.state,
		Styles:            c.styles,
		StyleID:           c.styleID,
		CustomDescription: c.custom,
		Image:             c.image,
		Result:            c.result,
		UploadPercent:     c.percent,
		ErrorMessage:      c.errMsg,
	}
}

// LoadStyles fetches the style catalog, keeping the hardcoded fallback when
// the backend is unreachable. Never surfaces an error to the user.
func (c *Controller) LoadStyles(ctx context.Context) {
	styles, err := c.gw.ListStyles(ctx)
	if err != nil || len(styles) == 0 {
		return
	}
	c.mu.Lock()
	c.styles = styles
	c.mu.Unlock()
}

// Upload validates the picked file and sends it to the media host. Allowed
// from Idle, Ready, and Completed; a new upload replaces the previous image
// and clears any previous result.
func (c *Controller) Upload(ctx context.Context, path string, onProgress upload.ProgressFunc) error {
	info, err := upload.Stat(path)
	if err != nil {
		c.mu.Lock()
		c.errMsg = fmt.Sprintf("Upload failed: %v", err)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateUploading:
		c.mu.Unlock()
		return ErrUploadInFlight
	case StateGenerating:
		c.mu.Unlock()
		return ErrGenerationInFlight
	}
	attempt := uuid.NewString()
	c.attempt = attempt
	c.state = StateUploading
	c.percent = 0
	c.result = nil
	c.errMsg = ""
	c.mu.Unlock()

	progress := func(pct int) {
		c.mu.Lock()
		if c.attempt == attempt {
			c.percent = pct
		}
		c.mu.Unlock()
		if onProgress != nil {
			onProgress(pct)
		}
	}

	res, err := c.up.Upload(ctx, info, progress)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		// A reset or newer upload superseded this one; drop the outcome.
		return nil
	}
	c.percent = 0
	if err != nil {
		c.state = StateIdle
		c.image = nil
		c.errMsg = fmt.Sprintf("Upload failed: %v", err)
		return err
	}
	c.state = StateReady
	c.image = &res
	return nil
}

// SelectStyle switches the active style. Moving to custom reveals the
// description; moving away discards whatever was typed.
func (c *Controller) SelectStyle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUploading || c.state == StateGenerating {
		return
	}
	c.styleID = id
	if id != api.StyleCustom {
		c.custom = ""
	}
}

// SetCustomDescription updates the custom style text, clipped to the cap.
// The cap counts characters, not bytes, so multibyte text is never cut
// mid-rune.
func (c *Controller) SetCustomDescription(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runes := []rune(text); len(runes) > MaxCustomDescription {
		text = string(runes[:MaxCustomDescription])
	}
	c.custom = text
}

// Generate requests a caption for the uploaded image. Preconditions are
// checked locally before any token or network work; a generation already in
// flight makes this a no-op.
func (c *Controller) Generate(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateGenerating {
		c.mu.Unlock()
		return ErrGenerationInFlight
	}
	if c.state == StateUploading {
		c.mu.Unlock()
		return ErrUploadInFlight
	}
	if c.image == nil {
		err := &ValidationError{Reason: "please upload an image first"}
		c.errMsg = err.Reason
		c.mu.Unlock()
		return err
	}
	if !c.sess.Snapshot().Present {
		c.errMsg = api.ErrAuthRequired.Error()
		c.mu.Unlock()
		return api.ErrAuthRequired
	}
	custom := strings.TrimSpace(c.custom)
	if c.styleID == api.StyleCustom && custom == "" {
		err := &ValidationError{Reason: "please describe your desired caption style"}
		c.errMsg = err.Reason
		c.mu.Unlock()
		return err
	}

	attempt := uuid.NewString()
	c.attempt = attempt
	c.state = StateGenerating
	c.errMsg = ""
	req := api.GenerateRequest{
		ImageURL: c.image.URL,
		Style:    c.styleID,
	}
	if c.styleID == api.StyleCustom {
		req.CustomDescription = custom
	}
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.generateTimeout)
	defer cancel()
	res, err := c.gw.GenerateCaption(callCtx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return nil
	}
	if err != nil {
		c.state = StateReady
		c.result = nil
		c.errMsg = fmt.Sprintf("Caption generation failed: %v", err)
		return err
	}
	c.state = StateCompleted
	c.result = &res
	return nil
}

// CopyText returns the enhanced caption for the clipboard.
func (c *Controller) CopyText() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return "", errors.New("no caption to copy")
	}
	return c.result.Enhanced, nil
}

// ImageURL returns the hosted image URL, empty when none is uploaded.
func (c *Controller) ImageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image == nil {
		return ""
	}
	return c.image.URL
}

// DismissError clears the error slot. The state already points at the right
// place: Idle after a failed upload, Ready after a failed generation.
func (c *Controller) DismissError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}

// Reset returns to the canonical Idle state from anywhere, invalidating any
// in-flight operation so its completion is ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = ""
	c.state = StateIdle
	c.styleID = api.StyleDefault
	c.custom = ""
	c.image = nil
	c.result = nil
	c.percent = 0
	c.errMsg = ""
}
