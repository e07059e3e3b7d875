package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownLLMProviders lists the LLM provider names wired by the service. Used by
// [Validate] to warn about unrecognised names.
var KnownLLMProviders = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied and returns a joined error listing every failure.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	s := cfg.Server
	if !s.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel)
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		add("server.tls requires both cert_file and key_file")
	}
	if s.MaxUploadMB < 0 {
		add("server.max_upload_mb must be positive, got %d", s.MaxUploadMB)
	}
	if s.AnalysisTimeout < 0 {
		add("server.analysis_timeout must be positive, got %s", s.AnalysisTimeout)
	}
	if s.Retention < 0 {
		add("server.retention must be positive, got %s", s.Retention)
	}

	// Backend
	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("backend.base_url %q must be an absolute http(s) URL", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout < 0 {
		add("backend.timeout must be positive, got %s", cfg.Backend.Timeout)
	}
	br := cfg.Backend.Breaker
	if br.MaxFailures < 0 || br.HalfOpenMax < 0 || br.ResetTimeout < 0 {
		add("backend.breaker values must be positive")
	}

	// Poller
	if cfg.Poller.MaxAttempts < 0 {
		add("poller.max_attempts must be positive, got %d", cfg.Poller.MaxAttempts)
	}
	if cfg.Poller.Interval < 0 {
		add("poller.interval must be positive, got %s", cfg.Poller.Interval)
	}

	// Fusion
	f := cfg.Fusion
	if f.BodyLanguageCap != nil && *f.BodyLanguageCap < 0 {
		add("fusion.body_language_cap must not be negative")
	}
	for name, v := range map[string]*float64{
		"vocal_dedup_seconds":        f.VocalDedupSeconds,
		"gesture_grace_seconds":      f.GestureGraceSeconds,
		"monotone_deviation":         f.MonotoneDeviation,
		"monotone_min_start_seconds": f.MonotoneMinStartSeconds,
	} {
		if v != nil && *v < 0 {
			add("fusion.%s must not be negative, got %g", name, *v)
		}
	}
	for i, w := range f.FillerWords {
		if w == "" {
			add("fusion.filler_words[%d] is empty", i)
		}
	}
	for name, tags := range map[string][]string{
		"low_gesture":    f.Tags.LowGesture,
		"gesture":        f.Tags.Gesture,
		"active_gesture": f.Tags.ActiveGesture,
	} {
		if slices.Contains(tags, "") {
			add("fusion.tags.%s contains an empty tag", name)
		}
	}

	// Scoring
	sc := cfg.Scoring
	for name, v := range map[string]*float64{
		"fluency_threshold":     sc.FluencyThreshold,
		"filler_penalty":        sc.FillerPenalty,
		"vocal_penalty":         sc.VocalPenalty,
		"body_language_penalty": sc.BodyLanguagePenalty,
		"gesture_base":          sc.GestureBase,
		"gesture_gain":          sc.GestureGain,
	} {
		if v != nil && *v < 0 {
			add("scoring.%s must not be negative, got %g", name, *v)
		}
	}
	if w := sc.Weights; w != nil {
		if w.Speech < 0 || w.Vocal < 0 || w.BodyLanguage < 0 {
			add("scoring.weights must not be negative")
		}
		if sum := w.Speech + w.Vocal + w.BodyLanguage; math.Abs(sum-1) > 1e-6 {
			add("scoring.weights must sum to 1, got %g", sum)
		}
	}

	// Feedback
	fb := cfg.Feedback
	seen := make(map[FeedbackSource]bool, len(fb.Sources))
	for i, src := range fb.Sources {
		if !src.IsValid() {
			add("feedback.sources[%d] %q is invalid; valid values: backend, llm", i, src)
			continue
		}
		if seen[src] {
			add("feedback.sources[%d] %q is listed twice", i, src)
		}
		seen[src] = true
	}
	if seen[FeedbackLLM] && len(fb.LLM) == 0 {
		add("feedback.sources includes llm but feedback.llm lists no provider")
	}
	if len(fb.LLM) > 0 && !seen[FeedbackLLM] {
		slog.Warn("feedback.llm is configured but llm is not in feedback.sources; providers are unused")
	}
	for i, e := range fb.LLM {
		prefix := fmt.Sprintf("feedback.llm[%d]", i)
		if e.Name == "" {
			add("%s.name is required", prefix)
			continue
		}
		if e.Model == "" {
			add("%s.model is required", prefix)
		}
		validateProviderName(e.Name)
	}
	if fb.Temperature < 0 || fb.Temperature > 2 {
		add("feedback.temperature %g is out of range [0, 2]", fb.Temperature)
	}
	if fb.MaxTokens < 0 {
		add("feedback.max_tokens must not be negative")
	}
	if fb.Placeholder.Start < 0 || fb.Placeholder.End < fb.Placeholder.Start {
		add("feedback.placeholder [%d, %d] must satisfy 0 <= start <= end", fb.Placeholder.Start, fb.Placeholder.End)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning for a provider name outside
// [KnownLLMProviders]; third-party factories may still be registered.
func validateProviderName(name string) {
	if slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown llm provider name, may be a typo or third-party provider",
		"name", name,
		"known", KnownLLMProviders,
	)
}
