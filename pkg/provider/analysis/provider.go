// Package analysis defines the Provider interface for the upstream
// presentation-analysis backend.
//
// The backend is a black box that accepts a recorded video, runs speech-to-text
// and gesture/pitch detection asynchronously, and exposes the result through a
// job-status endpoint. A Provider wraps the three operations Tremolo needs:
// uploading a recording, observing a job, and requesting secondary AI feedback.
//
// Implementations must be safe for concurrent use.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

var (
	// ErrUploadFailed is matched by every [*UploadError].
	ErrUploadFailed = errors.New("analysis: upload failed")

	// ErrJobNotFound is returned by Status when the backend does not know the job.
	ErrJobNotFound = errors.New("analysis: job not found")
)

// UploadError describes a rejected upload: either a non-2xx response or a 2xx
// response that did not carry a job id.
type UploadError struct {
	// Status is the HTTP status code returned by the backend.
	Status int

	// Detail is the server-provided message, if any.
	Detail string
}

func (e *UploadError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("analysis: upload failed (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("analysis: upload failed (HTTP %d)", e.Status)
}

// Is reports whether target is [ErrUploadFailed].
func (e *UploadError) Is(target error) bool {
	return target == ErrUploadFailed
}

// Provider is the abstraction over the analysis backend.
type Provider interface {
	// Upload sends the recording read from r and returns the id of the job
	// created for it. filename is forwarded as the multipart file name.
	Upload(ctx context.Context, filename string, r io.Reader) (jobID string, err error)

	// Status returns the current observation of jobID. It returns
	// [ErrJobNotFound] when the backend reports the job as unknown. A job that
	// reached the error state is not an error at this level; callers inspect
	// the returned status.
	Status(ctx context.Context, jobID string) (*types.JobStatus, error)

	// Feedback posts body to the secondary AI endpoint and returns the raw,
	// unvalidated payload. See the feedback package for how it is interpreted.
	Feedback(ctx context.Context, body any) (json.RawMessage, error)
}
