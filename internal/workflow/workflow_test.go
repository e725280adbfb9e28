package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"captionit/internal/api"
	"captionit/internal/session"
	"captionit/internal/upload"
)

type fakeGateway struct {
	styles    []api.Style
	stylesErr error
	result    api.CaptionResult
	genErr    error
	calls     int
	lastReq   api.GenerateRequest
	block     chan struct{}
}

func (f *fakeGateway) ListStyles(ctx context.Context) ([]api.Style, error) {
	return f.styles, f.stylesErr
}

func (f *fakeGateway) GenerateCaption(ctx context.Context, req api.GenerateRequest) (api.CaptionResult, error) {
	f.calls++
	f.lastReq = req
	if f.block != nil {
		<-f.block
	}
	return f.result, f.genErr
}

type fakeUploader struct {
	result upload.Result
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, info upload.FileInfo, onProgress upload.ProgressFunc) (upload.Result, error) {
	if f.err != nil {
		return upload.Result{}, f.err
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	res := f.result
	if res.URL == "" {
		res = upload.Result{URL: "https://media.example/uploads/" + info.Name, Name: info.Name, SizeBytes: info.SizeBytes}
	}
	return res, nil
}

type fakeSession struct {
	present bool
}

func (f fakeSession) Snapshot() session.Snapshot {
	return session.Snapshot{Present: f.present, UserID: "user-1"}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeImage(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	data := make([]byte, size)
	copy(data, pngHeader)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readyController(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	c := NewController(gw, &fakeUploader{}, fakeSession{present: true})
	if err := c.Upload(context.Background(), writeImage(t, 2<<20), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := c.Snapshot().State; got != StateReady {
		t.Fatalf("state after upload = %v, want ready", got)
	}
	return c
}

func TestHappyPath(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "LOL caption", Basic: "caption"}}
	c := readyController(t, gw)

	if got := len(c.Snapshot().Styles); got != 7 {
		t.Fatalf("default style count = %d, want 7", got)
	}

	c.SelectStyle("funny")
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	snap := c.Snapshot()
	if snap.State != StateCompleted {
		t.Fatalf("state = %v, want completed", snap.State)
	}
	if snap.Result == nil || snap.Result.Enhanced != "LOL caption" {
		t.Fatalf("result = %+v, want enhanced %q", snap.Result, "LOL caption")
	}
	if gw.lastReq.Style != "funny" || gw.lastReq.ImageURL == "" {
		t.Fatalf("request = %+v", gw.lastReq)
	}
	if gw.lastReq.CustomDescription != "" {
		t.Fatalf("non-custom style sent description %q", gw.lastReq.CustomDescription)
	}
}

func TestUpload_ValidationKeepsIdle(t *testing.T) {
	c := NewController(&fakeGateway{}, &fakeUploader{}, fakeSession{present: true})

	err := c.Upload(context.Background(), writeImage(t, upload.MaxFileSize+1), nil)
	var ve *upload.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want upload validation error", err)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Image != nil {
		t.Fatalf("oversized file moved state: %+v", snap)
	}
	if snap.ErrorMessage == "" {
		t.Fatal("validation failure left no message for the banner")
	}
}

func TestUpload_FailureReturnsToIdle(t *testing.T) {
	c := NewController(&fakeGateway{}, &fakeUploader{err: errors.New("quota exceeded")}, fakeSession{present: true})

	if err := c.Upload(context.Background(), writeImage(t, 1024), nil); err == nil {
		t.Fatal("Upload succeeded against a failing uploader")
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Image != nil || snap.UploadPercent != 0 {
		t.Fatalf("after failed upload: %+v", snap)
	}
	if !strings.Contains(snap.ErrorMessage, "quota exceeded") {
		t.Fatalf("error message = %q", snap.ErrorMessage)
	}
}

func TestGenerate_CustomStyleGating(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "ok"}}
	c := readyController(t, gw)
	c.SelectStyle(api.StyleCustom)

	for _, desc := range []string{"", "   ", "\t\n"} {
		c.SetCustomDescription(desc)
		err := c.Generate(context.Background())
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("desc %q: err = %v, want *ValidationError", desc, err)
		}
	}
	if gw.calls != 0 {
		t.Fatalf("gateway called %d times before validation passed", gw.calls)
	}

	c.SetCustomDescription("  motivational quote for fitness  ")
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate with description: %v", err)
	}
	if gw.lastReq.CustomDescription != "motivational quote for fitness" {
		t.Fatalf("description not trimmed: %q", gw.lastReq.CustomDescription)
	}
}

func TestGenerate_RequiresSession(t *testing.T) {
	gw := &fakeGateway{}
	c := NewController(gw, &fakeUploader{}, fakeSession{present: false})
	if err := c.Upload(context.Background(), writeImage(t, 1024), nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := c.Generate(context.Background()); !errors.Is(err, api.ErrAuthRequired) {
		t.Fatalf("err = %v, want ErrAuthRequired", err)
	}
	if gw.calls != 0 {
		t.Fatal("gateway contacted without a session")
	}
	if c.Snapshot().State != StateReady {
		t.Fatalf("state = %v, want ready", c.Snapshot().State)
	}
}

func TestGenerate_RequiresImage(t *testing.T) {
	gw := &fakeGateway{}
	c := NewController(gw, &fakeUploader{}, fakeSession{present: true})

	err := c.Generate(context.Background())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if gw.calls != 0 {
		t.Fatal("gateway contacted without an image")
	}
}

func TestGenerate_SecondCallIsNoOp(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "slow"}, block: make(chan struct{})}
	c := readyController(t, gw)

	done := make(chan error, 1)
	go func() { done <- c.Generate(context.Background()) }()

	// Wait for the first call to be in flight.
	deadline := time.After(2 * time.Second)
	for c.Snapshot().State != StateGenerating {
		select {
		case <-deadline:
			t.Fatal("first generation never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := c.Generate(context.Background()); !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("second Generate = %v, want ErrGenerationInFlight", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", gw.calls)
	}
}

func TestRegenerate_OverwritesResult(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "R1", Basic: "b1"}}
	c := readyController(t, gw)

	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	gw.result = api.CaptionResult{Enhanced: "R2", Basic: "b2"}
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	snap := c.Snapshot()
	if snap.Result.Enhanced != "R2" || snap.Result.Basic != "b2" {
		t.Fatalf("result = %+v, want only R2 visible", snap.Result)
	}
	if snap.State != StateCompleted {
		t.Fatalf("state = %v, want completed", snap.State)
	}
}

func TestGenerate_FailureReturnsToReady(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "R1"}}
	c := readyController(t, gw)
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	gw.genErr = &api.UpstreamError{Status: 500, Message: "model overloaded"}
	if err := c.Generate(context.Background()); err == nil {
		t.Fatal("Generate succeeded against a failing gateway")
	}

	snap := c.Snapshot()
	if snap.State != StateReady || snap.Result != nil {
		t.Fatalf("after failure: state %v result %+v, want ready with cleared result", snap.State, snap.Result)
	}
	if !strings.Contains(snap.ErrorMessage, "model overloaded") {
		t.Fatalf("error message = %q", snap.ErrorMessage)
	}
}

func TestReset_IsIdempotentAndCanonical(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "R1"}}
	c := readyController(t, gw)
	c.SelectStyle(api.StyleCustom)
	c.SetCustomDescription("something")
	if err := c.Generate(context.Background()); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for i := 0; i < 3; i++ {
		c.Reset()
		snap := c.Snapshot()
		if snap.State != StateIdle || snap.Image != nil || snap.Result != nil {
			t.Fatalf("reset #%d: %+v", i, snap)
		}
		if snap.StyleID != api.StyleDefault || snap.CustomDescription != "" {
			t.Fatalf("reset #%d style = %q custom = %q", i, snap.StyleID, snap.CustomDescription)
		}
		if snap.ErrorMessage != "" || snap.UploadPercent != 0 {
			t.Fatalf("reset #%d left residue: %+v", i, snap)
		}
	}
}

func TestReset_DiscardsStaleCompletion(t *testing.T) {
	gw := &fakeGateway{result: api.CaptionResult{Enhanced: "stale"}, block: make(chan struct{})}
	c := readyController(t, gw)

	done := make(chan error, 1)
	go func() { done <- c.Generate(context.Background()) }()
	deadline := time.After(2 * time.Second)
	for c.Snapshot().State != StateGenerating {
		select {
		case <-deadline:
			t.Fatal("generation never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	c.Reset()
	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("superseded Generate returned %v, want nil", err)
	}

	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Result != nil {
		t.Fatalf("stale completion mutated state: %+v", snap)
	}
}

func TestSelectStyle_AwayFromCustomClearsText(t *testing.T) {
	c := NewController(&fakeGateway{}, &fakeUploader{}, fakeSession{present: true})
	c.SelectStyle(api.StyleCustom)
	c.SetCustomDescription("romantic caption for couple photo")
	c.SelectStyle("poetic")

	snap := c.Snapshot()
	if snap.StyleID != "poetic" || snap.CustomDescription != "" {
		t.Fatalf("style %q custom %q, want poetic with cleared text", snap.StyleID, snap.CustomDescription)
	}
}

func TestSetCustomDescription_Caps(t *testing.T) {
	c := NewController(&fakeGateway{}, &fakeUploader{}, fakeSession{present: true})
	c.SetCustomDescription(strings.Repeat("x", MaxCustomDescription+50))
	if got := len(c.Snapshot().CustomDescription); got != MaxCustomDescription {
		t.Fatalf("description length = %d, want %d", got, MaxCustomDescription)
	}
}

func TestSetCustomDescription_CapCountsCharactersNotBytes(t *testing.T) {
	c := NewController(&fakeGateway{}, &fakeUploader{}, fakeSession{present: true})

	// Two bytes per character; at the cap nothing may be lost.
	exact := strings.Repeat("é", MaxCustomDescription)
	c.SetCustomDescription(exact)
	if got := c.Snapshot().CustomDescription; got != exact {
		t.Fatalf("stored %d characters, want %d", utf8.RuneCountInString(got), MaxCustomDescription)
	}

	c.SetCustomDescription(strings.Repeat("é", MaxCustomDescription+5))
	got := c.Snapshot().CustomDescription
	if utf8.RuneCountInString(got) != MaxCustomDescription {
		t.Fatalf("clipped to %d characters, want %d", utf8.RuneCountInString(got), MaxCustomDescription)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("clipped description is not valid UTF-8: %q", got)
	}
}

func TestLoadStyles_KeepsFallbackOnError(t *testing.T) {
	gw := &fakeGateway{stylesErr: errors.New("backend down")}
	c := NewController(gw, &fakeUploader{}, fakeSession{present: true})
	c.LoadStyles(context.Background())

	styles := c.Snapshot().Styles
	if len(styles) != 7 || styles[len(styles)-1].ID != api.StyleCustom {
		t.Fatalf("fallback styles = %+v", styles)
	}
}

func TestLoadStyles_AdoptsBackendCatalog(t *testing.T) {
	gw := &fakeGateway{styles: []api.Style{{ID: "noir", Name: "Noir"}}}
	c := NewController(gw, &fakeUploader{}, fakeSession{present: true})
	c.LoadStyles(context.Background())

	styles := c.Snapshot().Styles
	if len(styles) != 1 || styles[0].ID != "noir" {
		t.Fatalf("styles = %+v", styles)
	}
}
