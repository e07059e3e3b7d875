// Package httpapi provides an analysis.Provider backed by the analysis
// backend's REST API.
//
// Endpoints used:
//
//	POST /api/upload-video   multipart field "file"   → {"status", "job_id"}
//	GET  /api/status/{id}                             → types.JobStatus
//	POST /api/ai             arbitrary JSON           → raw feedback payload
//
// Usage:
//
//	p, err := httpapi.New("http://localhost:8000", httpapi.WithTimeout(30*time.Second))
//	jobID, err := p.Upload(ctx, "talk.mp4", f)
//	st, err := p.Status(ctx, jobID)
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

const (
	defaultTimeout = 60 * time.Second

	// maxDetailLen bounds the amount of a non-JSON error body kept as detail.
	maxDetailLen = 512
)

var _ analysis.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Uploads of large recordings
// may need more than the default of 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider talks to the analysis backend over HTTP. It is safe for concurrent
// use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider for the backend at baseURL (e.g.
// "http://localhost:8000"). A trailing slash is ignored.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpapi: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("httpapi: invalid baseURL: %w", err)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Upload streams the recording as multipart/form-data and returns the job id
// assigned by the backend.
func (p *Provider) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if filename == "" {
		filename = "recording"
	}

	// The body is produced while the request is sent, so the recording is
	// never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeRecording(mw, filename, r))
	}()
	defer func() {
		_ = pr.Close()
		<-done
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/upload-video", pr)
	if err != nil {
		return "", fmt.Errorf("httpapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpapi: upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("httpapi: read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &analysis.UploadError{Status: resp.StatusCode, Detail: detailOf(data)}
	}

	var result struct {
		Status string `json:"status"`
		JobID  string `json:"job_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("httpapi: parse upload response: %w", err)
	}
	if result.JobID == "" {
		return "", &analysis.UploadError{Status: resp.StatusCode, Detail: "response carried no job id"}
	}
	return result.JobID, nil
}

// writeRecording encodes r as the "file" part of mw and closes mw.
func writeRecording(mw *multipart.Writer, filename string, r io.Reader) error {
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("httpapi: create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return fmt.Errorf("httpapi: write recording: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("httpapi: close multipart writer: %w", err)
	}
	return nil
}

// Status fetches the current state of jobID.
func (p *Provider) Status(ctx context.Context, jobID string) (*types.JobStatus, error) {
	endpoint := p.baseURL + "/api/status/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("httpapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi: status %q: %w", jobID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: read status response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("httpapi: status %q: %w", jobID, analysis.ErrJobNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("httpapi: status %q: server returned HTTP %d: %s", jobID, resp.StatusCode, detailOf(data))
	}

	var st types.JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("httpapi: parse status response: %w", err)
	}
	return &st, nil
}

// Feedback posts body as JSON to the secondary AI endpoint. The response is
// returned verbatim as long as it is well-formed JSON.
func (p *Provider) Feedback(ctx context.Context, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: marshal feedback request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/ai", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("httpapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi: feedback: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: read feedback response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("httpapi: feedback: server returned HTTP %d: %s", resp.StatusCode, detailOf(data))
	}
	if !json.Valid(data) {
		return nil, errors.New("httpapi: feedback response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// Ping checks that the backend answers HTTP at all. Any response, including
// 404 for the root path, counts as reachable.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("httpapi: create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("httpapi: ping: server returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// detailOf extracts the server's error message. It understands the
// {"detail": "..."} convention and falls back to the trimmed raw body.
func detailOf(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			return s
		}
		return string(body.Detail)
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxDetailLen {
		s = s[:maxDetailLen]
	}
	return s
}
