package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kavehfayyazi/tremolo/internal/resilience"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New([]Checker{{Name: "down", Check: func(context.Context) error { return errors.New("x") }}})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.Checks != nil {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := Checker{Name: "backend", Check: func(context.Context) error { return nil }}
	bad := Checker{Name: "breaker", Check: func(context.Context) error { return errors.New("open") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{"no checkers", nil, http.StatusOK, map[string]string{}},
		{"all pass", []Checker{ok}, http.StatusOK, map[string]string{"backend": "ok"}},
		{"one fails", []Checker{ok, bad}, http.StatusServiceUnavailable,
			map[string]string{"backend": "ok", "breaker": "fail: open"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			wantBody := "ok"
			if tt.wantStatus != http.StatusOK {
				wantBody = "fail"
			}
			if body.Status != wantBody {
				t.Errorf("body status = %q, want %q", body.Status, wantBody)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	t.Parallel()

	slow := Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := New([]Checker{slow}, WithCheckTimeout(20*time.Millisecond))

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := decode(t, rec).Checks["slow"]; !strings.Contains(got, "deadline exceeded") {
		t.Errorf("slow check = %q", got)
	}
}

func TestBreakerCheck(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "analysis-backend",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
	})
	c := BreakerCheck(cb)
	if c.Name != "breaker:analysis-backend" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breaker: %v", err)
	}

	_ = cb.Execute(func() error { return errors.New("boom") })
	if err := c.Check(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("open breaker: got %v", err)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{PingCheck("backend", func(context.Context) error { return nil })}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

// ---- helpers ----

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}
