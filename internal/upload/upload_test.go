package upload

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"captionit/internal/api"
)

// pngHeader is enough for content sniffing to say image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeImage(t *testing.T, size int64) FileInfo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pic.png")
	data := make([]byte, size)
	copy(data, pngHeader)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return FileInfo{Path: path, Name: "pic.png", SizeBytes: size}
}

type fakeSigner struct{ err error }

func (f fakeSigner) UploadSignature(ctx context.Context) (api.Signature, error) {
	if f.err != nil {
		return api.Signature{}, f.err
	}
	return api.Signature{APIKey: "k", Timestamp: 1700000000, Signature: "sig", CloudName: "demo"}, nil
}

func TestValidate_SizeBoundary(t *testing.T) {
	atLimit := writeImage(t, MaxFileSize)
	if err := Validate(atLimit); err != nil {
		t.Fatalf("exactly 10 MiB rejected: %v", err)
	}

	overLimit := writeImage(t, MaxFileSize+1)
	err := Validate(overLimit)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("10 MiB + 1 byte: err = %v, want *ValidationError", err)
	}
}

func TestValidate_RejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text, definitely not pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Validate(FileInfo{Path: path, Name: "notes.txt", SizeBytes: 33})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestStat_EmptyPath(t *testing.T) {
	_, err := Stat("  ")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestUpload_HappyPath(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotForm = map[string]string{
			"api_key":   r.FormValue("api_key"),
			"timestamp": r.FormValue("timestamp"),
			"signature": r.FormValue("signature"),
			"folder":    r.FormValue("folder"),
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		var buf bytes.Buffer
		buf.ReadFrom(f)
		if !bytes.HasPrefix(buf.Bytes(), pngHeader) {
			t.Error("uploaded bytes do not match the source file")
		}
		w.Write([]byte(`{"secure_url":"https://media.example/uploads/pic.png"}`))
	}))
	defer srv.Close()

	c := NewClient(fakeSigner{}, srv.URL+"/v1_1/%s/image/upload")
	info := writeImage(t, 2<<20)

	var progress []int
	res, err := c.Upload(context.Background(), info, func(pct int) { progress = append(progress, pct) })
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.URL != "https://media.example/uploads/pic.png" {
		t.Fatalf("URL = %q", res.URL)
	}
	if res.Name != "pic.png" || res.SizeBytes != 2<<20 {
		t.Fatalf("result identity = %+v", res)
	}
	if gotForm["api_key"] != "k" || gotForm["timestamp"] != "1700000000" || gotForm["signature"] != "sig" || gotForm["folder"] != "uploads" {
		t.Fatalf("credential fields = %v", gotForm)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v, want events ending at 100", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
}

func TestUpload_ServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid signature"}}`))
	}))
	defer srv.Close()

	c := NewClient(fakeSigner{}, srv.URL+"/v1_1/%s/image/upload")
	_, err := c.Upload(context.Background(), writeImage(t, 1024), nil)
	var ue *api.UpstreamError
	if !errors.As(err, &ue) || ue.Message != "Invalid signature" {
		t.Fatalf("err = %v, want upstream rejection with host message", err)
	}
}

func TestUpload_NetworkUnreachable(t *testing.T) {
	c := NewClient(fakeSigner{}, "http://127.0.0.1:1/%s/upload")
	_, err := c.Upload(context.Background(), writeImage(t, 1024), nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}

func TestUpload_ValidationBeforeSignature(t *testing.T) {
	// The signer fails loudly; an invalid file must never get that far.
	c := NewClient(fakeSigner{err: errors.New("signer contacted")}, "")
	_, err := c.Upload(context.Background(), writeImage(t, MaxFileSize+1), nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError before any network call", err)
	}
}
