package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/kavehfayyazi/tremolo/internal/config"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm"
	"github.com/kavehfayyazi/tremolo/pkg/provider/llm/mock"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"tls half set", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"relative backend url", "backend:\n  base_url: localhost:8000\n", "backend.base_url"},
		{"ftp backend url", "backend:\n  base_url: ftp://example.com\n", "backend.base_url"},
		{"negative attempts", "poller:\n  max_attempts: -1\n", "poller.max_attempts"},
		{"negative dedup", "fusion:\n  vocal_dedup_seconds: -0.5\n", "fusion.vocal_dedup_seconds"},
		{"empty filler", "fusion:\n  filler_words: [um, \"\"]\n", "fusion.filler_words[1]"},
		{"negative penalty", "scoring:\n  vocal_penalty: -1\n", "scoring.vocal_penalty"},
		{"weights sum", "scoring:\n  weights: {speech: 0.5, vocal: 0.5, body_language: 0.5}\n", "sum to 1"},
		{"unknown source", "feedback:\n  sources: [oracle]\n", "feedback.sources[0]"},
		{"duplicate source", "feedback:\n  sources: [backend, backend]\n", "listed twice"},
		{"llm without providers", "feedback:\n  sources: [llm]\n", "lists no provider"},
		{"llm entry without model", "feedback:\n  sources: [llm]\n  llm:\n    - name: openai\n", "feedback.llm[0].model"},
		{"llm entry without name", "feedback:\n  sources: [llm]\n  llm:\n    - model: x\n", "feedback.llm[0].name"},
		{"temperature", "feedback:\n  temperature: 3\n", "feedback.temperature"},
		{"placeholder", "feedback:\n  placeholder: {start: 5, end: 2}\n", "feedback.placeholder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
poller:
  interval: -1s
feedback:
  sources: [llm]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "poller.interval", "feedback.sources"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()

	yaml := `
feedback:
  sources: [llm]
  llm:
    - name: homegrown
      model: v1
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider name should only warn, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should be invalid`)
	}
}

func TestEnabled(t *testing.T) {
	t.Parallel()
	yes, no := true, false
	if !config.Enabled(nil) || !config.Enabled(&yes) || config.Enabled(&no) {
		t.Error("Enabled should default nil to true and dereference otherwise")
	}
}

// ---- Registry ----

func TestRegistry_UnknownLLM(t *testing.T) {
	t.Parallel()

	_, err := config.NewRegistry().CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("expected ErrProviderNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &mock.Provider{}
	var got config.ProviderEntry
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return want, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if got.Model != "m1" {
		t.Errorf("factory received %+v", got)
	}
	if names := reg.LLMNames(); len(names) != 1 || names[0] != "fake" {
		t.Errorf("LLMNames = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	reg := config.NewRegistry()
	reg.RegisterLLM("bad", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}
