// Package poller waits for an analysis job to reach a terminal state.
//
// The backend exposes no push channel, so the only way to observe a job is to
// query its status repeatedly. [Poller] does this with a flat retry policy:
// a fixed interval between attempts, no exponential backoff and no jitter. The
// total wait is therefore bounded by MaxAttempts × Interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Default polling parameters.
const (
	DefaultMaxAttempts = 120
	DefaultInterval    = 2 * time.Second
)

var (
	// ErrJobTimeout is returned when the job is still not terminal after
	// MaxAttempts polls.
	ErrJobTimeout = errors.New("poller: job did not finish in time")

	// ErrJobFailed is matched by every [*JobFailedError].
	ErrJobFailed = errors.New("poller: job failed")
)

// JobFailedError reports a job that the backend moved to the error state.
type JobFailedError struct {
	JobID  string
	Detail string
}

func (e *JobFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("poller: job %q failed", e.JobID)
	}
	return fmt.Sprintf("poller: job %q failed: %s", e.JobID, e.Detail)
}

// Is reports whether target is [ErrJobFailed].
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

// Config configures a [Poller].
type Config struct {
	// MaxAttempts is the number of non-terminal observations tolerated before
	// giving up. Defaults to 120 if zero.
	MaxAttempts int

	// Interval is the fixed pause between attempts. Defaults to 2s if zero.
	Interval time.Duration

	// OnAttempt is called after every successful status fetch, terminal or
	// not, with the 1-based attempt number. May be nil.
	OnAttempt func(attempt int, st *types.JobStatus)
}

// Poller polls a [analysis.Provider] for job completion. It holds no per-job
// state and is safe for concurrent use.
type Poller struct {
	provider    analysis.Provider
	maxAttempts int
	interval    time.Duration
	onAttempt   func(int, *types.JobStatus)
}

// New creates a [Poller] for provider.
func New(provider analysis.Provider, cfg Config) *Poller {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		provider:    provider,
		maxAttempts: maxAttempts,
		interval:    interval,
		onAttempt:   cfg.OnAttempt,
	}
}

// Poll blocks until jobID completes and returns the final status.
//
// It fails with a [*JobFailedError] if the job reports the error state, with
// [ErrJobTimeout] after MaxAttempts non-terminal observations, and with
// [analysis.ErrJobNotFound] (wrapped) if the backend does not know the job.
// Any other fetch error aborts polling immediately. Cancelling ctx interrupts
// the wait between attempts.
func (p *Poller) Poll(ctx context.Context, jobID string) (*types.JobStatus, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		st, err := p.provider.Status(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("poller: job %q attempt %d: %w", jobID, attempt, err)
		}
		if p.onAttempt != nil {
			p.onAttempt(attempt, st)
		}

		switch st.Status {
		case types.JobComplete:
			slog.Debug("job complete", "job_id", jobID, "attempts", attempt)
			return st, nil
		case types.JobError:
			return nil, &JobFailedError{JobID: jobID, Detail: st.Detail}
		}

		slog.Debug("job not finished",
			"job_id", jobID,
			"state", st.Status,
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
		)
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poller: job %q: %w", jobID, ctx.Err())
		case <-time.After(p.interval):
		}
	}
	return nil, fmt.Errorf("%w: job %q after %d attempts", ErrJobTimeout, jobID, p.maxAttempts)
}

// MaxWait returns the upper bound on time spent sleeping inside [Poller.Poll].
func (p *Poller) MaxWait() time.Duration {
	return time.Duration(p.maxAttempts-1) * p.interval
}
