// Package mock provides a test double for the analysis.Provider interface.
//
// Provider replays a scripted sequence of job statuses and records every call,
// so tests can drive the poller and the engine without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    JobID: "job-1",
//	    Statuses: []*types.JobStatus{
//	        {Status: types.JobProcessing},
//	        {Status: types.JobComplete, Transcription: tr},
//	    },
//	}
package mock

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// UploadCall records a single invocation of Provider.Upload.
type UploadCall struct {
	Filename string
	// Data is everything read from the reader passed to Upload.
	Data []byte
}

// FeedbackCall records a single invocation of Provider.Feedback.
type FeedbackCall struct {
	Body any
}

// Provider is a mock implementation of analysis.Provider.
type Provider struct {
	mu sync.Mutex

	// JobID is returned by Upload.
	JobID string

	// UploadErr, if non-nil, is returned by Upload.
	UploadErr error

	// Statuses is replayed by Status, one entry per call. Once exhausted the
	// last entry is repeated. A nil entry makes that call return StatusErr.
	Statuses []*types.JobStatus

	// StatusErr is returned by Status when the scripted entry is nil, or on
	// every call when Statuses is empty.
	StatusErr error

	// FeedbackResponse and FeedbackErr are returned by Feedback.
	FeedbackResponse json.RawMessage
	FeedbackErr      error

	UploadCalls   []UploadCall
	StatusCalls   []string
	FeedbackCalls []FeedbackCall
}

var _ analysis.Provider = (*Provider)(nil)

// Upload records the call and returns JobID, UploadErr.
func (p *Provider) Upload(_ context.Context, filename string, r io.Reader) (string, error) {
	data, _ := io.ReadAll(r)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UploadCalls = append(p.UploadCalls, UploadCall{Filename: filename, Data: data})
	if p.UploadErr != nil {
		return "", p.UploadErr
	}
	return p.JobID, nil
}

// Status records the call and returns the next scripted status.
func (p *Provider) Status(_ context.Context, jobID string) (*types.JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.StatusCalls)
	p.StatusCalls = append(p.StatusCalls, jobID)
	if len(p.Statuses) == 0 {
		return nil, p.StatusErr
	}
	st := p.Statuses[min(n, len(p.Statuses)-1)]
	if st == nil {
		return nil, p.StatusErr
	}
	cp := *st
	return &cp, nil
}

// Feedback records the call and returns FeedbackResponse, FeedbackErr.
func (p *Provider) Feedback(_ context.Context, body any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FeedbackCalls = append(p.FeedbackCalls, FeedbackCall{Body: body})
	if p.FeedbackErr != nil {
		return nil, p.FeedbackErr
	}
	return p.FeedbackResponse, nil
}

// StatusCallCount returns the number of Status calls. Thread-safe.
func (p *Provider) StatusCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StatusCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UploadCalls = nil
	p.StatusCalls = nil
	p.FeedbackCalls = nil
}
