package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// BackendFailure classifies analysis backend errors for a [CircuitBreaker].
// Only errors that say something about backend health count: transport
// failures and server-side upload errors. A missing job, a file rejected with
// a 4xx status and a cancelled caller do not.
func BackendFailure(err error) bool {
	if !CountsAsFailure(err) {
		return false
	}
	if errors.Is(err, analysis.ErrJobNotFound) {
		return false
	}
	var ue *analysis.UploadError
	if errors.As(err, &ue) && ue.Status >= 400 && ue.Status < 500 {
		return false
	}
	return true
}

// GuardedProvider wraps an [analysis.Provider] with circuit breakers. Upload
// and Status share one breaker; Feedback has its own so a failing feedback
// endpoint never blocks uploads or polling. While a breaker is open the calls
// it guards fail immediately with an error matching [ErrCircuitOpen].
type GuardedProvider struct {
	inner    analysis.Provider
	breaker  *CircuitBreaker
	feedback *CircuitBreaker
}

var _ analysis.Provider = (*GuardedProvider)(nil)

// NewGuardedProvider wraps inner. An unset cfg.IsFailure defaults to
// [BackendFailure]. The feedback breaker uses the same settings under the
// name cfg.Name + "-feedback".
func NewGuardedProvider(inner analysis.Provider, cfg CircuitBreakerConfig) *GuardedProvider {
	if cfg.IsFailure == nil {
		cfg.IsFailure = BackendFailure
	}
	if cfg.Name == "" {
		cfg.Name = "analysis-backend"
	}
	fcfg := cfg
	fcfg.Name = cfg.Name + "-feedback"
	return &GuardedProvider{
		inner:    inner,
		breaker:  NewCircuitBreaker(cfg),
		feedback: NewCircuitBreaker(fcfg),
	}
}

// Breaker exposes the upload/status breaker for health reporting.
func (g *GuardedProvider) Breaker() *CircuitBreaker {
	return g.breaker
}

// FeedbackBreaker exposes the breaker guarding Feedback.
func (g *GuardedProvider) FeedbackBreaker() *CircuitBreaker {
	return g.feedback
}

// Upload implements analysis.Provider.
func (g *GuardedProvider) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var id string
	err := g.breaker.Execute(func() error {
		var err error
		id, err = g.inner.Upload(ctx, filename, r)
		return err
	})
	return id, g.wrap(err)
}

// Status implements analysis.Provider.
func (g *GuardedProvider) Status(ctx context.Context, jobID string) (*types.JobStatus, error) {
	var st *types.JobStatus
	err := g.breaker.Execute(func() error {
		var err error
		st, err = g.inner.Status(ctx, jobID)
		return err
	})
	return st, g.wrap(err)
}

// Feedback implements analysis.Provider.
func (g *GuardedProvider) Feedback(ctx context.Context, body any) (json.RawMessage, error) {
	var raw json.RawMessage
	err := g.feedback.Execute(func() error {
		var err error
		raw, err = g.inner.Feedback(ctx, body)
		return err
	})
	return raw, wrapOpen(g.feedback, err)
}

func (g *GuardedProvider) wrap(err error) error {
	return wrapOpen(g.breaker, err)
}

func wrapOpen(cb *CircuitBreaker, err error) error {
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("resilience: %s: %w", cb.Name(), err)
	}
	return err
}
