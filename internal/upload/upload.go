// Package upload sends image files straight to the external media host using
// a short-lived signed credential from the backend. The backend never sees
// the image bytes, only the resulting public URL.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"captionit/internal/api"
)

// MaxFileSize is the upload ceiling. A file of exactly this size is allowed.
const MaxFileSize = 10 << 20

const uploadFolder = "uploads"

// ErrNetwork marks failures reaching the media host at all, as opposed to
// the host rejecting the upload.
var ErrNetwork = errors.New("could not connect to upload service")

// ValidationError is a local rejection that never reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// FileInfo describes a file the user picked, before any bytes are read.
type FileInfo struct {
	Path      string
	Name      string
	SizeBytes int64
}

// Result is a completed upload: a stable, permanently-resolvable URL plus
// the original file identity for display.
type Result struct {
	URL       string
	Name      string
	SizeBytes int64
}

// ProgressFunc receives fractional progress in percent, 0 through 100.
type ProgressFunc func(percent int)

// signer fetches upload credentials; satisfied by the api gateway client.
type signer interface {
	UploadSignature(ctx context.Context) (api.Signature, error)
}

// Client uploads files to the media host.
type Client struct {
	signer     signer
	hostFormat string
	httpClient *http.Client
}

// DefaultHostFormat is the media host's upload endpoint; the %s is the cloud
// name from the signed credential.
const DefaultHostFormat = "https://api.cloudinary.com/v1_1/%s/image/upload"

// NewClient creates an upload client. hostFormat may be empty to use the
// default media host.
func NewClient(s signer, hostFormat string) *Client {
	if hostFormat == "" {
		hostFormat = DefaultHostFormat
	}
	return &Client{
		signer:     s,
		hostFormat: hostFormat,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Stat validates a path without reading the whole file and returns its
// identity. All rejections are ValidationErrors.
func Stat(path string) (FileInfo, error) {
	if strings.TrimSpace(path) == "" {
		return FileInfo{}, &ValidationError{Reason: "no file provided"}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, &ValidationError{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}
	if fi.IsDir() {
		return FileInfo{}, &ValidationError{Reason: "path is a directory, not an image file"}
	}
	info := FileInfo{Path: path, Name: filepath.Base(path), SizeBytes: fi.Size()}
	if err := Validate(info); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}

// Validate applies the size and media-type rules. The type check sniffs the
// leading bytes rather than trusting the extension.
func Validate(info FileInfo) error {
	if info.SizeBytes > MaxFileSize {
		return &ValidationError{Reason: "file size too large, maximum allowed size is 10MB"}
	}
	f, err := os.Open(info.Path)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return &ValidationError{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}
	if !strings.HasPrefix(http.DetectContentType(head[:n]), "image/") {
		return &ValidationError{Reason: "please upload only image files"}
	}
	return nil
}

// Upload validates, fetches a signed credential, and streams the file to the
// media host, reporting progress along the way.
func (c *Client) Upload(ctx context.Context, info FileInfo, onProgress ProgressFunc) (Result, error) {
	if err := Validate(info); err != nil {
		return Result{}, err
	}

	sig, err := c.signer.UploadSignature(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("get upload credential: %w", err)
	}

	data, err := os.ReadFile(info.Path)
	if err != nil {
		return Result{}, &ValidationError{Reason: fmt.Sprintf("cannot read file: %v", err)}
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", info.Name)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, err
	}
	fields := map[string]string{
		"api_key":   sig.APIKey,
		"timestamp": strconv.FormatInt(sig.Timestamp, 10),
		"signature": sig.Signature,
		"folder":    uploadFolder,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Result{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	hostURL := fmt.Sprintf(c.hostFormat, sig.CloudName)
	reader := &progressReader{
		r:     bytes.NewReader(body.Bytes()),
		total: int64(body.Len()),
		fn:    onProgress,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hostURL, reader)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.ContentLength = reader.total

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Result{}, fmt.Errorf("upload timed out: %w", err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, hostError(resp)
	}

	var out struct {
		SecureURL string `json:"secure_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	if out.SecureURL == "" {
		return Result{}, errors.New("media host returned no url")
	}

	if onProgress != nil {
		onProgress(100)
	}
	return Result{URL: out.SecureURL, Name: info.Name, SizeBytes: info.SizeBytes}, nil
}

// hostError surfaces the media host's rejection reason, which nests the
// message one level deeper than the backend does.
func hostError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error.Message != "" {
			msg = payload.Error.Message
		} else if payload.Message != "" {
			msg = payload.Message
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("upload failed with status %d", resp.StatusCode)
	}
	return &api.UpstreamError{Status: resp.StatusCode, Message: msg}
}

// progressReader reports percent milestones as the request body drains.
type progressReader struct {
	r     *bytes.Reader
	total int64
	sent  int64
	last  int
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.sent += int64(n)
	if p.fn != nil && p.total > 0 {
		pct := int(p.sent * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.fn(pct)
		}
	}
	return n, err
}
