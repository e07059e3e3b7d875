package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock lets tests move past the reset timeout without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "test" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	fail(cb, 3)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	fail(cb, 2)
	_ = cb.Execute(func() error { return nil })
	fail(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    []error
		wantState State
	}{
		{"successful probes close", []error{nil, nil}, StateClosed},
		{"failing probe re-opens", []error{errTest}, StateOpen},
		{"late failure re-opens", []error{nil, errTest}, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb, clk := newTestBreaker(CircuitBreakerConfig{
				Name:         "test",
				MaxFailures:  2,
				ResetTimeout: 10 * time.Second,
				HalfOpenMax:  2,
			})
			fail(cb, 2)
			clk.Advance(10 * time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after timeout", cb.State())
			}
			for _, p := range tt.probes {
				_ = cb.Execute(func() error { return p })
			}
			if got := cb.State(); got != tt.wantState {
				t.Fatalf("state = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	fail(cb, 1)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IgnoresCanceledContext(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	for range 3 {
		_ = cb.Execute(func() error { return fmt.Errorf("poll: %w", context.Canceled) })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CustomClassifier(t *testing.T) {
	t.Parallel()
	benign := errors.New("benign")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, benign) },
	})

	if err := cb.Execute(func() error { return benign }); !errors.Is(err, benign) {
		t.Fatalf("err = %v, want benign passed through", err)
	}
	if cb.State() != StateClosed {
		t.Fatal("benign error must not open the breaker")
	}
	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatal("expected open after a counted failure")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	type change struct{ from, to State }
	var got []change
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			if name != "backend" {
				t.Errorf("name = %q", name)
			}
			got = append(got, change{from, to})
		},
	})

	fail(cb, 1)
	clk.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []change{{StateClosed, StateOpen}, {StateOpen, StateHalfOpen}, {StateHalfOpen, StateClosed}}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	fail(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
